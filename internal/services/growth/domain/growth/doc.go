// Package growth owns the bounded growth math and the interpreter that applies
// it to a user's persisted growth state.
//
// Every mutation is a fresh read followed by a conditional write: the store
// only accepts the new state when its version still matches the snapshot the
// delta was computed from, and it records the applying event id in the same
// transaction so the same event never moves the state twice.
package growth
