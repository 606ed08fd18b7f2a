package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// CallID identifies one call record in the signaling store. It doubles as
// the shareable session handle: joining a call needs nothing but this id.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.NewString())
}

// ParseCallID validates a handle received from the outside (a URL token or
// CLI argument).
func ParseCallID(s string) (CallID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid call id %q: %w", s, err)
	}
	return CallID(id.String()), nil
}

func (id CallID) String() string {
	return string(id)
}
