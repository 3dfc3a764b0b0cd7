package usecase

import (
	"fmt"

	"github.com/google/uuid"
)

// newTimeOrderedID returns a UUIDv7 string; lexical order follows creation time.
func newTimeOrderedID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuidv7: %w", err)
	}
	return id.String(), nil
}
