package session

import "github.com/google/uuid"

// NewParticipantID mints a time-ordered id, unique per connection attempt.
func NewParticipantID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
