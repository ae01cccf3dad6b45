// Package repository contains data access layer abstractions.
// Implementations live in subpackages (e.g., postgres) inside this directory.
package repository

import "errors"

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update matched no row.
	ErrConflict = errors.New("conditional update matched no row")
)
