// Package domain contains core concepts of the collaboration server.
// This file defines the outbound messages pushed to clients.
// Every message carries its wire "type" so it can be encoded as is.
package domain

import (
	"time"

	"github.com/samber/lo"
)

type MessageType string

// Outbound message types.
const (
	TypeReady             MessageType = "ready"
	TypeSync              MessageType = "sync"
	TypeTurnUpdate        MessageType = "turn_update"
	TypeLockGranted       MessageType = "lock_granted"
	TypeLockDenied        MessageType = "lock_denied"
	TypeLockReleased      MessageType = "lock_released"
	TypeSuggestion        MessageType = "suggestion"
	TypeSuggestionHandled MessageType = "suggestion_handled"
	TypeUserJoined        MessageType = "user_joined"
	TypeUserLeft          MessageType = "user_left"
	TypeInfo              MessageType = "info"
	TypeError             MessageType = "error"
)

// Outbound is implemented by every message sent to a client.
type Outbound interface {
	MessageType() MessageType
}

type Ready struct {
	Type        MessageType         `json:"type"`
	DocID       RoomID              `json:"doc_id"`
	Mode        TurnMode            `json:"mode"`
	Editor      string              `json:"editor"`
	Files       Snapshot            `json:"files"`
	Users       []string            `json:"users"`
	History     []ChatMessage       `json:"history"`
	Suggestions []SuggestionMessage `json:"suggestions,omitempty"`
}

func (m Ready) MessageType() MessageType { return m.Type }

// Sync carries the new content of one document path.
type Sync struct {
	Type   MessageType `json:"type"`
	Path   string      `json:"path"`
	Value  string      `json:"value"`
	Editor string      `json:"editor"`
}

func NewSync(path, value, editor string) Sync {
	return Sync{Type: TypeSync, Path: path, Value: value, Editor: editor}
}

func (m Sync) MessageType() MessageType { return m.Type }

// TurnUpdate announces the current writer; an empty editor means nobody.
type TurnUpdate struct {
	Type   MessageType `json:"type"`
	Editor string      `json:"editor"`
}

func NewTurnUpdate(editor string) TurnUpdate {
	return TurnUpdate{Type: TypeTurnUpdate, Editor: editor}
}

func (m TurnUpdate) MessageType() MessageType { return m.Type }

type LockGranted struct {
	Type MessageType `json:"type"`
	User string      `json:"user"`
}

func NewLockGranted(user string) LockGranted {
	return LockGranted{Type: TypeLockGranted, User: user}
}

func (m LockGranted) MessageType() MessageType { return m.Type }

type LockDenied struct {
	Type   MessageType `json:"type"`
	Holder string      `json:"holder,omitempty"`
}

func NewLockDenied(holder string) LockDenied {
	return LockDenied{Type: TypeLockDenied, Holder: holder}
}

func (m LockDenied) MessageType() MessageType { return m.Type }

type LockReleased struct {
	Type    MessageType `json:"type"`
	User    string      `json:"user"`
	Message string      `json:"message"`
}

func NewLockReleased(user, message string) LockReleased {
	return LockReleased{Type: TypeLockReleased, User: user, Message: message}
}

func (m LockReleased) MessageType() MessageType { return m.Type }

type ChatMessage struct {
	Type      MessageType `json:"type"`
	User      string      `json:"user"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewChatMessage(entry ChatEntry) ChatMessage {
	return ChatMessage{Type: TypeChatMessage, User: entry.User, Message: entry.Message, Timestamp: entry.At}
}

func (m ChatMessage) MessageType() MessageType { return m.Type }

func (m ChatMessage) Entry(room RoomID) ChatEntry {
	return ChatEntry{Room: room, User: m.User, Message: m.Message, At: m.Timestamp}
}

type SuggestionMessage struct {
	Type          MessageType      `json:"type"`
	ID            int64            `json:"id"`
	User          string           `json:"user"`
	LineStart     int              `json:"line_start"`
	LineEnd       int              `json:"line_end"`
	OriginalCode  string           `json:"original_code"`
	SuggestedCode string           `json:"suggested_code"`
	Status        SuggestionStatus `json:"status"`
}

func NewSuggestionMessage(s Suggestion) SuggestionMessage {
	return SuggestionMessage{
		Type:          TypeSuggestion,
		ID:            s.ID,
		User:          s.User,
		LineStart:     s.LineStart,
		LineEnd:       s.LineEnd,
		OriginalCode:  s.OriginalCode,
		SuggestedCode: s.SuggestedCode,
		Status:        s.Status,
	}
}

func NewSuggestionMessages(suggestions []Suggestion) []SuggestionMessage {
	return lo.Map(suggestions, func(item Suggestion, _ int) SuggestionMessage {
		return NewSuggestionMessage(item)
	})
}

func (m SuggestionMessage) MessageType() MessageType { return m.Type }

type SuggestionHandled struct {
	Type         MessageType      `json:"type"`
	SuggestionID int64            `json:"suggestion_id"`
	Action       string           `json:"action"`
	Status       SuggestionStatus `json:"status"`
	User         string           `json:"user"`
}

func NewSuggestionHandled(id int64, action string, status SuggestionStatus, user string) SuggestionHandled {
	return SuggestionHandled{Type: TypeSuggestionHandled, SuggestionID: id, Action: action, Status: status, User: user}
}

func (m SuggestionHandled) MessageType() MessageType { return m.Type }

// Presence is sent as user_joined or user_left.
type Presence struct {
	Type  MessageType `json:"type"`
	User  string      `json:"user"`
	Users []string    `json:"users"`
}

func NewPresence(t MessageType, user string, users []string) Presence {
	return Presence{Type: t, User: user, Users: users}
}

func (m Presence) MessageType() MessageType { return m.Type }

type Info struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewInfo(message string) Info {
	return Info{Type: TypeInfo, Message: message}
}

func (m Info) MessageType() MessageType { return m.Type }

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
}

func NewErrorMessage(kind, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Kind: kind, Message: message}
}

func (m ErrorMessage) MessageType() MessageType { return m.Type }
