package util

import "github.com/google/uuid"

// NewID returns a time-ordered UUID (version 7). Row ids sort by creation
// time, which keeps value and activity indexes append-mostly.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsID reports whether s is a well-formed UUID.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
