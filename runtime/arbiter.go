package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"join-code/contract"
	"join-code/domain"
	"join-code/errors"
)

// Arbiter grants write access to at most one session per room.
//
// Advisory mode: take_turn/give_turn reassign the writer unconditionally.
// Strict mode: request_lock succeeds only from Unlocked, both locally and
// against the shared LockStore, and release_lock only from the holder.
type Arbiter struct {
	log        *slog.Logger
	registry   *Registry
	router     *Router
	locker     contract.LockStore
	store      contract.Store
	instanceID string
}

func NewArbiter(log *slog.Logger, registry *Registry, router *Router, locker contract.LockStore, store contract.Store) *Arbiter {
	return &Arbiter{
		log:        log,
		registry:   registry,
		router:     router,
		locker:     locker,
		store:      store,
		instanceID: router.InstanceID(),
	}
}

func (a *Arbiter) Mode() domain.TurnMode { return a.registry.Mode() }

// holderKey identifies a session across instances in the lock store.
func holderKey(instanceID, connID string) string {
	return instanceID + "/" + connID
}

func (a *Arbiter) requireMode(mode domain.TurnMode, msgType domain.MessageType) error {
	if a.Mode() != mode {
		return errors.Validationf("%s is not available when turns are %s", msgType, a.Mode())
	}
	return nil
}

// RequireWriter fails with a permission error unless s holds the grant.
// The room must be locked.
func (a *Arbiter) RequireWriter(room *Room, s *Session, action string) error {
	if room.IsWriter(s) {
		return nil
	}
	if a.Mode() == domain.ModeStrict {
		return errors.Permissionf("you must hold the lock to %s", action)
	}
	return errors.Permissionf("only the current editor can %s", action)
}

// TakeTurn reassigns the writer to user (the sender when empty). Advisory only.
func (a *Arbiter) TakeTurn(ctx context.Context, s *Session, msgType domain.MessageType, user string) error {
	if err := a.requireMode(domain.ModeAdvisory, msgType); err != nil {
		return err
	}
	if user == "" {
		user = s.User
	}
	msg := domain.NewTurnUpdate(user)
	err := a.registry.Update(s.Room, func(room *Room) error {
		grant := domain.WriteGrant{User: user, Instance: a.instanceID}
		if user == s.User {
			grant.ConnID = s.ID
		} else if target, ok := room.sessionByUser(user); ok {
			grant.ConnID = target.ID
		}
		room.setWriter(grant)
		return a.router.deliver(room, msg)
	})
	if err != nil {
		return err
	}
	a.log.Info("Turn reassigned", "room_id", s.Room, "by", s.User, "editor", user)
	return a.router.Publish(ctx, s.Room, msg)
}

// RequestLock grants the lock to s if the room is unlocked everywhere.
// A local holder denies at once; a holder on another instance only when
// the lock store still records it.
// The requester alone receives lock_granted or lock_denied; the rest of the
// room learns the new holder through turn_update.
func (a *Arbiter) RequestLock(ctx context.Context, s *Session) error {
	if err := a.requireMode(domain.ModeStrict, domain.TypeRequestLock); err != nil {
		return err
	}
	var (
		granted bool
		holder  string
	)
	err := a.registry.Update(s.Room, func(room *Room) error {
		if current, ok := room.Writer(); ok {
			holder = current.User
			if current.Instance == a.instanceID {
				return nil
			}
			// A grant learned from the bus may be stale: the lock store decides.
		}
		acquired, err := a.locker.Acquire(ctx, s.Room, holderKey(a.instanceID, s.ID))
		if err != nil {
			return fmt.Errorf("lock store: %w", err)
		}
		if !acquired {
			return nil
		}
		room.setWriter(domain.WriteGrant{ConnID: s.ID, User: s.User, Instance: a.instanceID})
		granted = true
		a.router.sendLocked(s, domain.NewLockGranted(s.User))
		return a.router.deliverExcept(room, s.ID, domain.NewTurnUpdate(s.User))
	})
	if err != nil {
		return err
	}
	if !granted {
		a.log.Debug("Lock denied", "room_id", s.Room, "user", s.User, "holder", holder)
		return a.router.SendTo(s, domain.NewLockDenied(holder))
	}

	a.log.Info("Lock granted", "room_id", s.Room, "user", s.User, "conn_id", s.ID)
	if err = a.router.Publish(ctx, s.Room, domain.NewTurnUpdate(s.User)); err != nil {
		a.log.Warn("Lock grant not replicated", "room_id", s.Room, "error", err)
	}
	return a.sendPendingSuggestions(ctx, s)
}

// sendPendingSuggestions hands the queued proposals to a new writer.
func (a *Arbiter) sendPendingSuggestions(ctx context.Context, s *Session) error {
	pending, err := a.store.GetPendingSuggestions(ctx, s.Room)
	if err != nil {
		return fmt.Errorf("pending suggestions: %w", err)
	}
	for _, suggestion := range pending {
		if suggestion.User == s.User {
			continue
		}
		if err = a.router.SendTo(s, domain.NewSuggestionMessage(suggestion)); err != nil {
			// Closed stream: the disconnect path will release the lock.
			break
		}
	}
	return nil
}

// ReleaseLock unlocks the room. From a non-holder it changes nothing and
// reports a permission error to the sender.
func (a *Arbiter) ReleaseLock(ctx context.Context, s *Session) error {
	if err := a.requireMode(domain.ModeStrict, domain.TypeReleaseLock); err != nil {
		return err
	}
	msg := domain.NewLockReleased(s.User, fmt.Sprintf("%s released the editor", s.User))
	err := a.registry.Update(s.Room, func(room *Room) error {
		if !room.IsWriter(s) {
			return errors.Permissionf("only the lock holder can release the lock")
		}
		room.clearWriter()
		a.releaseStore(ctx, s.Room, s.ID)
		return a.router.deliver(room, msg)
	})
	if err != nil {
		return err
	}
	a.log.Info("Lock released", "room_id", s.Room, "user", s.User)
	return a.router.Publish(ctx, s.Room, msg)
}

func (a *Arbiter) releaseStore(ctx context.Context, roomID domain.RoomID, connID string) {
	if _, err := a.locker.Release(ctx, roomID, holderKey(a.instanceID, connID)); err != nil {
		a.log.Error("Failed to release lock in store", "room_id", roomID, "conn_id", connID, "error", err)
	}
}

// Refresh extends the shared lock of an active holder.
func (a *Arbiter) Refresh(ctx context.Context, s *Session) {
	if a.Mode() != domain.ModeStrict {
		return
	}
	a.refresh(ctx, s.Room, s.ID)
}

// RefreshLocks extends the shared lock of every local holder, so an idle
// holder keeps its lock, and revokes the grants whose lock was lost.
func (a *Arbiter) RefreshLocks(ctx context.Context) {
	if a.Mode() != domain.ModeStrict {
		return
	}
	for roomID, grant := range a.registry.LocalGrants() {
		a.refresh(ctx, roomID, grant.ConnID)
	}
}

func (a *Arbiter) refresh(ctx context.Context, roomID domain.RoomID, connID string) {
	ok, err := a.locker.Refresh(ctx, roomID, holderKey(a.instanceID, connID))
	if err != nil {
		// Store unreachable: keep the grant, the next refresh decides.
		a.log.Warn("Lock refresh failed", "room_id", roomID, "conn_id", connID, "error", err)
		return
	}
	if !ok {
		a.revoke(ctx, roomID, connID)
	}
}

// revoke drops a local grant whose shared lock expired or was taken over.
func (a *Arbiter) revoke(ctx context.Context, roomID domain.RoomID, connID string) {
	var msg domain.Outbound
	err := a.registry.Update(roomID, func(room *Room) error {
		grant, ok := room.Writer()
		if !ok || grant.ConnID != connID || grant.Instance != a.instanceID {
			return nil
		}
		room.clearWriter()
		msg = domain.NewLockReleased(grant.User, fmt.Sprintf("editor unlocked (lock of %s expired)", grant.User))
		a.log.Warn("Lock lost, grant revoked", "room_id", roomID, "user", grant.User, "conn_id", connID)
		return a.router.deliver(room, msg)
	})
	if err != nil || msg == nil {
		return
	}
	if err = a.router.Publish(ctx, roomID, msg); err != nil {
		a.log.Warn("Lock revocation not replicated", "room_id", roomID, "error", err)
	}
}

// Leave detaches s. A departing holder is treated as an implicit release,
// performed in the same critical section as the removal.
func (a *Arbiter) Leave(ctx context.Context, s *Session) (DetachResult, error) {
	var lost domain.Outbound
	res, err := a.registry.Detach(s.Room, s.ID, func(room *Room, grant domain.WriteGrant) {
		lost = a.abandon(ctx, room, grant)
	})
	if err != nil {
		return res, err
	}
	if lost != nil {
		if err = a.router.Publish(ctx, s.Room, lost); err != nil {
			a.log.Warn("Writer release not replicated", "room_id", s.Room, "error", err)
		}
	}
	return res, nil
}

// abandon runs with the room locked, right after the grant was cleared.
func (a *Arbiter) abandon(ctx context.Context, room *Room, grant domain.WriteGrant) domain.Outbound {
	var msg domain.Outbound
	if room.Mode() == domain.ModeStrict {
		a.releaseStore(ctx, room.ID(), grant.ConnID)
		msg = domain.NewLockReleased(grant.User, fmt.Sprintf("editor unlocked (%s disconnected)", grant.User))
	} else {
		msg = domain.NewTurnUpdate("")
	}
	if err := a.router.deliver(room, msg); err != nil {
		a.log.Error("Failed to announce writer departure", "room_id", room.ID(), "error", err)
	}
	a.log.Info("Writer left, room unlocked", "room_id", room.ID(), "user", grant.User)
	return msg
}
