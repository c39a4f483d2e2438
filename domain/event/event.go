package event

import (
	"encoding/json"

	"join-code/domain"
)

// ReplicatedEvent is the bus envelope used to fan a room message out to the
// other instances. It is never persisted.
type ReplicatedEvent struct {
	Origin  string             `json:"origin"`
	Room    domain.RoomID      `json:"doc_id"`
	Type    domain.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
	// Target restricts delivery to the local writer when it carries this user label.
	Target string `json:"target,omitempty"`
}

func (e ReplicatedEvent) RoomID() domain.RoomID {
	return e.Room
}

func New(origin string, room domain.RoomID, msg domain.Outbound) (ReplicatedEvent, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return ReplicatedEvent{}, err
	}
	return ReplicatedEvent{Origin: origin, Room: room, Type: msg.MessageType(), Payload: payload}, nil
}

func (e ReplicatedEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (ReplicatedEvent, error) {
	var evt ReplicatedEvent
	err := json.Unmarshal(data, &evt)
	return evt, err
}
