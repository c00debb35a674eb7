// Package id generates URL-safe identifiers for events, tasks and outbox
// entries.
//
// Identifiers are UUIDv4 bytes encoded as base32 (RFC 4648) without padding:
// 26 lowercase characters, safe for URLs, file paths and SQLite keys.
package id
