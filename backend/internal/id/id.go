// Package id mints lot and record ids. They are ULIDs, so ids sort in
// creation order as plain strings, in SQL indexes as well as in Go.
package id

import "github.com/oklog/ulid/v2"

// Generator mints lot ids. Stores take one so tests can pin ids.
type Generator func() string

// New returns a fresh ULID. Ids minted within the same millisecond still
// increase. Safe for concurrent use.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s is a well-formed lot id. Sell and the CLI use it to
// turn garbage ids into input errors before touching a store.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
