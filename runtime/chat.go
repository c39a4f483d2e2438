package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"join-code/contract"
	"join-code/domain"
	"join-code/errors"
)

type Chat struct {
	log      *slog.Logger
	registry *Registry
	router   *Router
	store    contract.Store
	censor   contract.Censor
}

func NewChat(log *slog.Logger, registry *Registry, router *Router, store contract.Store) *Chat {
	return &Chat{log: log, registry: registry, router: router, store: store}
}

// WithCensor masks forbidden words of every posted line.
func (c *Chat) WithCensor(censor contract.Censor) *Chat {
	c.censor = censor
	return c
}

// Post persists a chat line, appends it to the replay log and fans it out.
func (c *Chat) Post(ctx context.Context, s *Session, cmd domain.ChatCommand) error {
	text := strings.TrimSpace(cmd.Message)
	if text == "" {
		return errors.Validationf("message is empty")
	}
	if c.censor != nil {
		var words []string
		if text, words = c.censor.Censor(text); len(words) > 0 {
			c.log.Info("Chat message censored", "room_id", s.Room, "user", s.User, "words", len(words))
		}
	}
	entry := domain.ChatEntry{Room: s.Room, User: s.User, Message: text, At: time.Now().UTC()}
	if err := c.store.AppendChatMessage(ctx, entry); err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}

	msg := domain.NewChatMessage(entry)
	err := c.registry.Update(s.Room, func(room *Room) error {
		room.appendHistory(entry)
		return c.router.deliver(room, msg)
	})
	if err != nil {
		return err
	}
	return c.router.Publish(ctx, s.Room, msg)
}
