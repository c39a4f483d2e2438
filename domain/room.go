// Package domain contains core concepts of the collaboration server.
// This file defines rooms, turn modes and write grants.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"fmt"
	"time"
)

type RoomID string

// TurnMode selects how write access is arbitrated inside every room of a process.
type TurnMode string

const (
	// ModeAdvisory lets any participant reassign the writer (last one wins).
	ModeAdvisory TurnMode = "advisory"
	// ModeStrict uses the request/grant/deny/release lock protocol.
	ModeStrict TurnMode = "strict"
)

func ParseTurnMode(s string) (TurnMode, error) {
	switch TurnMode(s) {
	case ModeAdvisory, ModeStrict:
		return TurnMode(s), nil
	default:
		return "", fmt.Errorf("unknown turn mode %q, expected %q or %q", s, ModeAdvisory, ModeStrict)
	}
}

// WriteGrant is the single permission to edit a room's document.
// A grant with an empty ConnID only carries a user label: it was assigned
// to a user that is not attached to this instance.
type WriteGrant struct {
	ConnID   string
	User     string
	Instance string
}

// IsLocal reports whether the grant belongs to a connection of the given instance.
func (g WriteGrant) IsLocal(instanceID string) bool {
	return g.ConnID != "" && g.Instance == instanceID
}

// Snapshot maps a document path to its current content.
type Snapshot map[string]string

func NewSnapshot(defaultPath, defaultContent string) Snapshot {
	return Snapshot{defaultPath: defaultContent}
}

// Clone returns a copy safe to hand outside the room lock.
func (s Snapshot) Clone() Snapshot {
	res := make(Snapshot, len(s))
	for path, content := range s {
		res[path] = content
	}
	return res
}

// Seed is the persisted state used to initialise a room the first time it
// is created on this instance.
type Seed struct {
	Files   Snapshot
	History []ChatEntry
	Pending []Suggestion
}

type RoomStats struct {
	RoomID          RoomID
	Name            string
	MessageCount    int64
	SuggestionCount int64
	CreatedAt       time.Time
	LastActivity    time.Time
}
