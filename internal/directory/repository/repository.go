// Package repository persists the Number Directory: the set of sanitized numbers whose
// sessions should be resumed when the process boots.
package repository

import "context"

// Repository defines persistence for directory entries.
type Repository interface {
	// Add records number. Adding an existing number keeps its original position.
	Add(ctx context.Context, number string) error
	// Remove deletes number. Removing a missing number is not an error.
	Remove(ctx context.Context, number string) error
	// List returns every number in the order it was first added.
	List(ctx context.Context) ([]string, error)
}
