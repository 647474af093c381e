// Package id mints identifiers for jobs and webhook deliveries.
package id

import "github.com/google/uuid"

func New() string {
	return uuid.NewString()
}

// Valid reports whether s is an identifier produced by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
