package domain

import (
	"fmt"
	"time"
)

type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
)

// Suggestion is an edit proposal from a non-writer. It is created by its
// proposer and only ever resolved by the current writer.
type Suggestion struct {
	ID            int64
	Room          RoomID
	User          string
	LineStart     int
	LineEnd       int
	OriginalCode  string
	SuggestedCode string
	Status        SuggestionStatus
	CreatedAt     time.Time
}

// StatusForAction maps a handle_suggestion action to the resulting status.
func StatusForAction(action string) (SuggestionStatus, error) {
	switch action {
	case "accept":
		return SuggestionAccepted, nil
	case "reject":
		return SuggestionRejected, nil
	default:
		return "", fmt.Errorf("unknown suggestion action %q", action)
	}
}
