// Package httpapi exposes the growth service over HTTP: the growth state read,
// the progression event query and the action writes that trigger growth.
package httpapi
