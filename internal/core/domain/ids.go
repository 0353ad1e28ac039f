package domain

import "github.com/google/uuid"

// NewID creates a unique random ID.
func NewID() string {
	return uuid.NewString()
}
