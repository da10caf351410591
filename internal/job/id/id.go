// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new random job ID (UUIDv4).
// Job IDs prefix every file a job writes to the workspace.
// Example: 3f1c2a9e-7b0d-4e55-9a61-0c8e2f7d4b13
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s has the shape of an ID returned by Generate.
func Valid(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && len(s) == 36 && u.Version() == 4
}
