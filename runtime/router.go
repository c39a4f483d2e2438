package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"join-code/contract"
	"join-code/domain"
	"join-code/domain/event"
	"join-code/errors"
)

// Router delivers room messages to the local sessions and replicates them
// to the other instances through the bus.
//
// A message is published exactly once, by the instance that produced it.
// Messages received from the bus are applied and delivered locally but never
// published again, and messages carrying our own origin are discarded.
type Router struct {
	log        *slog.Logger
	registry   *Registry
	bus        contract.Bus
	channel    string
	instanceID string
	suppressed atomic.Uint64
}

func NewRouter(log *slog.Logger, registry *Registry, bus contract.Bus, channel, instanceID string) *Router {
	return &Router{log: log, registry: registry, bus: bus, channel: channel, instanceID: instanceID}
}

func (r *Router) InstanceID() string { return r.instanceID }

// Suppressed counts self-originated events dropped on receipt.
func (r *Router) Suppressed() uint64 { return r.suppressed.Load() }

// BroadcastLocal delivers msg to every session of the room attached to this process.
func (r *Router) BroadcastLocal(roomID domain.RoomID, msg domain.Outbound) {
	err := r.registry.Update(roomID, func(room *Room) error {
		return r.deliver(room, msg)
	})
	if err != nil && !errors.Is(err, errors.ErrRoomNotFound) {
		r.log.Warn("Local broadcast failed", "room_id", roomID, "type", msg.MessageType(), "error", err)
	}
}

// BroadcastGlobal delivers locally right away, then publishes for the other instances.
func (r *Router) BroadcastGlobal(ctx context.Context, roomID domain.RoomID, msg domain.Outbound) error {
	r.BroadcastLocal(roomID, msg)
	return r.Publish(ctx, roomID, msg)
}

// Publish replicates msg to the other instances without local delivery.
func (r *Router) Publish(ctx context.Context, roomID domain.RoomID, msg domain.Outbound) error {
	return r.PublishTo(ctx, roomID, "", msg)
}

// PublishTo replicates msg addressed to the writer carrying the target label.
func (r *Router) PublishTo(ctx context.Context, roomID domain.RoomID, target string, msg domain.Outbound) error {
	evt, err := event.New(r.instanceID, roomID, msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	evt.Target = target
	payload, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("encode replicated %s: %w", msg.MessageType(), err)
	}
	if err = r.bus.Publish(ctx, r.channel, payload); err != nil {
		r.log.Error("Failed to publish to bus", "room_id", roomID, "type", msg.MessageType(), "error", err)
		return err
	}
	return nil
}

// SendTo writes msg to a single session, outside of any room lock.
func (r *Router) SendTo(s *Session, msg domain.Outbound) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err = s.Conn.Send(payload); err != nil {
		r.log.Debug("Dropping message for recipient", "room_id", s.Room, "conn_id", s.ID, "error", err)
		return fmt.Errorf("%w: %v", errors.ErrTransport, err)
	}
	return nil
}

// deliver must be called with the room locked.
func (r *Router) deliver(room *Room, msg domain.Outbound) error {
	return r.deliverExcept(room, "", msg)
}

func (r *Router) deliverExcept(room *Room, except string, msg domain.Outbound) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	room.deliver(payload, except)
	return nil
}

// sendLocked writes msg to one session of a locked room.
func (r *Router) sendLocked(s *Session, msg domain.Outbound) {
	payload, err := encode(msg)
	if err != nil {
		r.log.Error("Failed to encode message", "type", msg.MessageType(), "error", err)
		return
	}
	if err = s.Conn.Send(payload); err != nil {
		r.log.Debug("Dropping message for recipient", "room_id", s.Room, "conn_id", s.ID, "error", err)
	}
}

// OnBusMessage handles an event replicated by another instance.
// It applies the snapshot-affecting part of the event and delivers it to the
// local sessions only. It never publishes.
func (r *Router) OnBusMessage(_ context.Context, evt event.ReplicatedEvent) {
	if evt.Origin == r.instanceID {
		r.suppressed.Add(1)
		return
	}
	if evt.Room == "" || len(evt.Payload) == 0 {
		r.log.Warn("Ignoring malformed replicated event", "origin", evt.Origin, "type", evt.Type)
		return
	}
	err := r.registry.Update(evt.Room, func(room *Room) error {
		if err := r.apply(room, evt); err != nil {
			r.log.Warn("Failed to apply replicated event", "room_id", evt.Room, "type", evt.Type, "error", err)
		}
		if evt.Target != "" {
			if s, ok := room.writerSession(); ok && s.User == evt.Target {
				if err := s.Conn.Send(evt.Payload); err != nil {
					r.log.Debug("Dropping addressed message", "room_id", evt.Room, "conn_id", s.ID, "error", err)
				}
			}
			return nil
		}
		room.deliver(evt.Payload, "")
		return nil
	})
	if err != nil && !errors.Is(err, errors.ErrRoomNotFound) {
		r.log.Warn("Replicated event not delivered", "room_id", evt.Room, "error", err)
	}
}

// apply mirrors the state change carried by a replicated event.
func (r *Router) apply(room *Room, evt event.ReplicatedEvent) error {
	switch evt.Type {
	case domain.TypeSync:
		var msg domain.Sync
		if err := json.Unmarshal(evt.Payload, &msg); err != nil {
			return err
		}
		room.setContent(msg.Path, msg.Value)
	case domain.TypeChatMessage:
		var msg domain.ChatMessage
		if err := json.Unmarshal(evt.Payload, &msg); err != nil {
			return err
		}
		room.appendHistory(msg.Entry(room.id))
	case domain.TypeTurnUpdate:
		var msg domain.TurnUpdate
		if err := json.Unmarshal(evt.Payload, &msg); err != nil {
			return err
		}
		r.applyTurn(room, evt.Origin, msg.Editor)
	case domain.TypeLockReleased:
		if room.writer != nil && room.writer.Instance == evt.Origin {
			room.clearWriter()
		}
	}
	return nil
}

func (r *Router) applyTurn(room *Room, origin, editor string) {
	if room.mode == domain.ModeStrict {
		// The lock store already arbitrated; a local holder is never overwritten.
		if room.writer != nil && room.writer.Instance == r.instanceID {
			return
		}
		if editor == "" {
			room.clearWriter()
			return
		}
		room.setWriter(domain.WriteGrant{User: editor, Instance: origin})
		return
	}
	switch s, ok := room.sessionByUser(editor); {
	case editor == "":
		room.clearWriter()
	case ok:
		room.setWriter(domain.WriteGrant{ConnID: s.ID, User: editor, Instance: r.instanceID})
	default:
		room.setWriter(domain.WriteGrant{User: editor, Instance: origin})
	}
}
