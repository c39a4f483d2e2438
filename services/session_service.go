package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"join-code/contract"
	"join-code/domain"
	"join-code/errors"
	"join-code/runtime"

	"github.com/go-playground/validator/v10"
)

type ISessionService interface {
	Join(ctx context.Context, roomID domain.RoomID, user string, conn contract.Conn) (*runtime.Session, error)
	Leave(ctx context.Context, s *runtime.Session)
	Handle(ctx context.Context, s *runtime.Session, frame []byte)
	RoomInfo(ctx context.Context, roomID domain.RoomID) (RoomInfo, error)
}

// RoomInfo is the read model served by GET /rooms/{room}/info.
type RoomInfo struct {
	RoomID          domain.RoomID   `json:"room_id"`
	Name            string          `json:"name"`
	Mode            domain.TurnMode `json:"mode"`
	Editor          string          `json:"editor"`
	Users           []string        `json:"users"`
	MessageCount    int64           `json:"message_count"`
	SuggestionCount int64           `json:"suggestion_count"`
	CreatedAt       time.Time       `json:"created_at"`
	LastActivity    time.Time       `json:"last_activity"`
}

// SessionService is the single entry point of the transport layer: it turns
// raw frames into commands and routes them to the room engine.
type SessionService struct {
	log         *slog.Logger
	store       contract.Store
	registry    *runtime.Registry
	router      *runtime.Router
	arbiter     *runtime.Arbiter
	documents   *runtime.Documents
	chat        *runtime.Chat
	suggestions *runtime.SuggestionWorkflow
	validate    *validator.Validate
	historySize int
}

func NewSessionService(log *slog.Logger, store contract.Store, registry *runtime.Registry, router *runtime.Router,
	arbiter *runtime.Arbiter, documents *runtime.Documents, chat *runtime.Chat,
	suggestions *runtime.SuggestionWorkflow, historySize int) *SessionService {
	return &SessionService{
		log:         log,
		store:       store,
		registry:    registry,
		router:      router,
		arbiter:     arbiter,
		documents:   documents,
		chat:        chat,
		suggestions: suggestions,
		validate:    validator.New(),
		historySize: historySize,
	}
}

// Join loads the persisted room, attaches the connection and announces it.
// The joiner receives ready before any other message of the room.
func (s *SessionService) Join(ctx context.Context, roomID domain.RoomID, user string, conn contract.Conn) (*runtime.Session, error) {
	if err := s.store.CreateRoomIfAbsent(ctx, roomID); err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}
	seed, err := s.loadSeed(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}

	session := runtime.NewSession(roomID, user, conn)
	if err = s.registry.Attach(session, seed); err != nil {
		return nil, err
	}

	users := s.registry.Users(roomID)
	if err = s.router.BroadcastGlobal(ctx, roomID, domain.NewPresence(domain.TypeUserJoined, user, users)); err != nil {
		s.log.Warn("Join not replicated", "room_id", roomID, "user", user, "error", err)
	}
	return session, nil
}

func (s *SessionService) loadSeed(ctx context.Context, roomID domain.RoomID) (domain.Seed, error) {
	files, err := s.store.GetContent(ctx, roomID)
	if err != nil {
		return domain.Seed{}, err
	}
	history, err := s.store.GetChatHistory(ctx, roomID, s.historySize)
	if err != nil {
		return domain.Seed{}, err
	}
	pending, err := s.store.GetPendingSuggestions(ctx, roomID)
	if err != nil {
		return domain.Seed{}, err
	}
	return domain.Seed{Files: files, History: history, Pending: pending}, nil
}

// Leave detaches the session. When the room is now empty on this instance
// the departure is only replicated.
func (s *SessionService) Leave(ctx context.Context, session *runtime.Session) {
	res, err := s.arbiter.Leave(ctx, session)
	if err != nil {
		s.log.Debug("Leave on unknown session", "room_id", session.Room, "conn_id", session.ID, "error", err)
		return
	}
	msg := domain.NewPresence(domain.TypeUserLeft, res.User, res.Users)
	if res.Empty {
		err = s.router.Publish(ctx, session.Room, msg)
	} else {
		err = s.router.BroadcastGlobal(ctx, session.Room, msg)
	}
	if err != nil {
		s.log.Warn("Leave not replicated", "room_id", session.Room, "user", res.User, "error", err)
	}
}

// Handle processes one inbound frame. Failures are answered to the sender
// only, as an error message carrying the failure kind.
func (s *SessionService) Handle(ctx context.Context, session *runtime.Session, frame []byte) {
	err := s.Dispatch(ctx, session, frame)
	if err == nil {
		return
	}
	kind := errors.KindOf(err)
	reason := err.Error()
	if kind == errors.KindInternal {
		s.log.Error("Command failed", "room_id", session.Room, "user", session.User, "error", err)
		reason = "internal error"
	} else {
		s.log.Debug("Command rejected", "room_id", session.Room, "user", session.User, "kind", kind, "error", err)
	}
	if sendErr := s.router.SendTo(session, domain.NewErrorMessage(string(kind), reason)); sendErr != nil {
		s.log.Debug("Error reply dropped", "conn_id", session.ID, "error", sendErr)
	}
}

// Dispatch decodes the frame and runs the matching command.
func (s *SessionService) Dispatch(ctx context.Context, session *runtime.Session, frame []byte) error {
	cmd, err := s.Decode(frame)
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case domain.JoinCommand:
		return errors.Validationf("already joined room %s", session.Room)
	case domain.TurnCommand:
		return s.arbiter.TakeTurn(ctx, session, c.Kind, c.User)
	case domain.LockCommand:
		if c.Kind == domain.TypeRequestLock {
			return s.arbiter.RequestLock(ctx, session)
		}
		return s.arbiter.ReleaseLock(ctx, session)
	case domain.CodeUpdateCommand:
		return s.documents.ApplyEdit(ctx, session, c)
	case domain.ChatCommand:
		return s.chat.Post(ctx, session, c)
	case domain.FileUploadCommand:
		return s.documents.Upload(ctx, session, c)
	case domain.GitCloneCommand:
		return s.documents.Import(ctx, session, c)
	case domain.CreateSuggestionCommand:
		_, err = s.suggestions.Create(ctx, session, c)
		return err
	case domain.HandleSuggestionCommand:
		return s.suggestions.Handle(ctx, session, c)
	default:
		return errors.Validationf("unsupported command %T", cmd)
	}
}

// Decode parses and validates an inbound frame into its typed command.
// Aliased types (code, chat) decode to the same command as their canonical name.
func (s *SessionService) Decode(frame []byte) (domain.Command, error) {
	var envelope domain.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, errors.Validationf("malformed frame: %v", err)
	}
	if err := s.validate.Struct(envelope); err != nil {
		return nil, errors.Validationf("message type is required")
	}

	var (
		decoded domain.Command
		err     error
	)
	switch envelope.Type {
	case domain.TypeJoin:
		decoded, err = decode(frame, domain.JoinCommand{})
	case domain.TypeTakeTurn, domain.TypeGiveTurn:
		decoded, err = decode(frame, domain.TurnCommand{Kind: envelope.Type})
	case domain.TypeRequestLock, domain.TypeReleaseLock:
		return domain.LockCommand{Kind: envelope.Type}, nil
	case domain.TypeCodeUpdate, domain.TypeCode:
		decoded, err = decode(frame, domain.CodeUpdateCommand{})
	case domain.TypeChatMessage, domain.TypeChat:
		decoded, err = decode(frame, domain.ChatCommand{})
	case domain.TypeFileUpload:
		decoded, err = decode(frame, domain.FileUploadCommand{})
	case domain.TypeGitClone:
		decoded, err = decode(frame, domain.GitCloneCommand{})
	case domain.TypeCreateSuggestion:
		decoded, err = decode(frame, domain.CreateSuggestionCommand{})
	case domain.TypeHandleSuggestion:
		decoded, err = decode(frame, domain.HandleSuggestionCommand{})
	default:
		return nil, errors.Validationf("unknown message type %q", envelope.Type)
	}
	if err != nil {
		return nil, err
	}

	if err = s.validate.Struct(decoded); err != nil {
		return nil, errors.Validationf("invalid %s: %v", envelope.Type, err)
	}
	if code, ok := decoded.(domain.CodeUpdateCommand); ok {
		if _, present := code.Text(); !present {
			return nil, errors.Validationf("invalid %s: value is required", envelope.Type)
		}
	}
	return decoded, nil
}

// decode fills cmd from frame; fields tagged json:"-" keep their preset value.
func decode[T domain.Command](frame []byte, cmd T) (domain.Command, error) {
	if err := json.Unmarshal(frame, &cmd); err != nil {
		return nil, errors.Validationf("malformed frame: %v", err)
	}
	return cmd, nil
}

// RoomInfo combines the persisted statistics with the live state of this instance.
func (s *SessionService) RoomInfo(ctx context.Context, roomID domain.RoomID) (RoomInfo, error) {
	stats, err := s.store.GetRoomStats(ctx, roomID)
	if err != nil {
		return RoomInfo{}, err
	}
	info := RoomInfo{
		RoomID:          roomID,
		Name:            stats.Name,
		Mode:            s.registry.Mode(),
		Users:           s.registry.Users(roomID),
		MessageCount:    stats.MessageCount,
		SuggestionCount: stats.SuggestionCount,
		CreatedAt:       stats.CreatedAt,
		LastActivity:    stats.LastActivity,
	}
	if info.Users == nil {
		info.Users = []string{}
	}
	if grant, ok := s.registry.Writer(roomID); ok {
		info.Editor = grant.User
	}
	return info, nil
}
