package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"join-code/contract"
	"join-code/domain"
	"join-code/errors"
)

// SuggestionWorkflow routes edit proposals from non-writers to the writer.
// Accepting a suggestion only records the decision: applying the proposed
// text to the document is left to the writer's client.
type SuggestionWorkflow struct {
	log      *slog.Logger
	registry *Registry
	router   *Router
	arbiter  *Arbiter
	store    contract.Store
}

func NewSuggestionWorkflow(log *slog.Logger, registry *Registry, router *Router, arbiter *Arbiter, store contract.Store) *SuggestionWorkflow {
	return &SuggestionWorkflow{log: log, registry: registry, router: router, arbiter: arbiter, store: store}
}

// Create persists a pending suggestion and delivers it to the current writer only.
func (w *SuggestionWorkflow) Create(ctx context.Context, s *Session, cmd domain.CreateSuggestionCommand) (int64, error) {
	err := w.registry.Update(s.Room, func(room *Room) error {
		if room.IsWriter(s) {
			return errors.Permissionf("you cannot create suggestions while holding write access")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	suggestion := domain.Suggestion{
		Room:          s.Room,
		User:          s.User,
		LineStart:     cmd.LineStart,
		LineEnd:       cmd.LineEnd,
		OriginalCode:  cmd.OriginalCode,
		SuggestedCode: cmd.SuggestedCode,
		Status:        domain.SuggestionPending,
		CreatedAt:     time.Now().UTC(),
	}
	id, err := w.store.CreateSuggestion(ctx, suggestion)
	if err != nil {
		return 0, fmt.Errorf("create suggestion: %w", err)
	}
	suggestion.ID = id
	msg := domain.NewSuggestionMessage(suggestion)

	var writerName, remoteWriter string
	err = w.registry.Update(s.Room, func(room *Room) error {
		if writer, ok := room.writerSession(); ok {
			writerName = writer.User
			w.router.sendLocked(writer, msg)
			return nil
		}
		if grant, ok := room.Writer(); ok {
			writerName, remoteWriter = grant.User, grant.User
		}
		return nil
	})
	if err != nil {
		return id, err
	}
	if remoteWriter != "" {
		if err = w.router.PublishTo(ctx, s.Room, remoteWriter, msg); err != nil {
			w.log.Warn("Suggestion not forwarded to remote writer", "room_id", s.Room, "id", id, "error", err)
		}
	}
	w.log.Info("Suggestion created", "room_id", s.Room, "id", id, "user", s.User, "writer", writerName)

	notice := fmt.Sprintf("suggestion %d sent to %s", id, writerName)
	if writerName == "" {
		notice = fmt.Sprintf("suggestion %d queued until someone holds the editor", id)
	}
	if err = w.router.SendTo(s, domain.NewInfo(notice)); err != nil {
		w.log.Debug("Suggestion confirmation not delivered", "room_id", s.Room, "conn_id", s.ID, "error", err)
	}
	return id, nil
}

// Handle resolves a pending suggestion. Only the writer may call it, and
// never on its own proposal; the decision is broadcast to the whole room.
func (w *SuggestionWorkflow) Handle(ctx context.Context, s *Session, cmd domain.HandleSuggestionCommand) error {
	status, err := domain.StatusForAction(cmd.Action)
	if err != nil {
		return errors.Validationf("%v", err)
	}
	err = w.registry.Update(s.Room, func(room *Room) error {
		return w.arbiter.RequireWriter(room, s, "handle suggestions")
	})
	if err != nil {
		return err
	}
	suggestion, err := w.store.GetSuggestion(ctx, s.Room, cmd.SuggestionID)
	if err != nil {
		return fmt.Errorf("load suggestion %d: %w", cmd.SuggestionID, err)
	}
	if suggestion.User == s.User {
		return errors.Permissionf("you cannot resolve your own suggestion")
	}
	if suggestion.Status != domain.SuggestionPending {
		return errors.Validationf("suggestion %d is already %s", cmd.SuggestionID, suggestion.Status)
	}
	if err = w.store.UpdateSuggestionStatus(ctx, s.Room, cmd.SuggestionID, status); err != nil {
		if errors.Is(err, errors.ErrSuggestionResolved) {
			return errors.Validationf("suggestion %d was resolved meanwhile", cmd.SuggestionID)
		}
		return fmt.Errorf("update suggestion %d: %w", cmd.SuggestionID, err)
	}
	w.log.Info("Suggestion handled", "room_id", s.Room, "id", cmd.SuggestionID, "status", status, "user", s.User)
	return w.router.BroadcastGlobal(ctx, s.Room, domain.NewSuggestionHandled(cmd.SuggestionID, cmd.Action, status, s.User))
}
