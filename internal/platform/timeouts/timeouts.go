// Package timeouts defines shared timeout constants used across rockettree
// processes so client and server sides agree on their budgets.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the growth health endpoint.
const GRPCDial = 2 * time.Second

// HTTPRequest caps a single viewer request to the growth HTTP API.
const HTTPRequest = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// StoreBusyRetry is the base delay between SQLite busy retries.
const StoreBusyRetry = 10 * time.Millisecond
