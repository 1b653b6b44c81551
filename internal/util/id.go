package util

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a time-ordered UUIDv7 string, used for gallery records so
// their IDs sort in completion order.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}

// NewJobID returns a random UUIDv4 string identifying one transformation flight.
func NewJobID() string {
	return uuid.NewString()
}
