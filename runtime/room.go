package runtime

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"join-code/contract"
	"join-code/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Session is one attached client stream.
type Session struct {
	ID   string
	Room domain.RoomID
	User string
	Conn contract.Conn
}

func NewSession(room domain.RoomID, user string, conn contract.Conn) *Session {
	return &Session{ID: uuid.NewString(), Room: room, User: user, Conn: conn}
}

// Room is the in-memory state of one collaboration session.
// Every field is guarded by mu; callers reach it through Registry.Update.
type Room struct {
	mu       sync.Mutex
	id       domain.RoomID
	mode     domain.TurnMode
	sessions map[string]*Session
	writer   *domain.WriteGrant
	snapshot domain.Snapshot
	history  *domain.History
	evicted  atomic.Bool
	log      *slog.Logger
}

func newRoom(id domain.RoomID, mode domain.TurnMode, snapshot domain.Snapshot, history *domain.History, log *slog.Logger) *Room {
	return &Room{
		id:       id,
		mode:     mode,
		sessions: make(map[string]*Session),
		snapshot: snapshot,
		history:  history,
		log:      log,
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) Mode() domain.TurnMode { return r.mode }

// Writer returns the current grant, if any.
func (r *Room) Writer() (domain.WriteGrant, bool) {
	if r.writer == nil {
		return domain.WriteGrant{}, false
	}
	return *r.writer, true
}

func (r *Room) EditorName() string {
	if r.writer == nil {
		return ""
	}
	return r.writer.User
}

func (r *Room) IsWriter(s *Session) bool {
	return r.writer != nil && r.writer.ConnID == s.ID
}

func (r *Room) setWriter(grant domain.WriteGrant) {
	r.writer = &grant
}

func (r *Room) clearWriter() {
	r.writer = nil
}

// writerSession returns the local session holding the grant.
func (r *Room) writerSession() (*Session, bool) {
	if r.writer == nil || r.writer.ConnID == "" {
		return nil, false
	}
	s, ok := r.sessions[r.writer.ConnID]
	return s, ok
}

func (r *Room) sessionByUser(user string) (*Session, bool) {
	for _, s := range r.sessions {
		if s.User == user {
			return s, true
		}
	}
	return nil, false
}

func (r *Room) Len() int { return len(r.sessions) }

// Users returns the labels of the local sessions, sorted.
func (r *Room) Users() []string {
	users := lo.Map(lo.Values(r.sessions), func(s *Session, _ int) string { return s.User })
	sort.Strings(users)
	return users
}

func (r *Room) Files() domain.Snapshot {
	return r.snapshot.Clone()
}

func (r *Room) setContent(path, content string) {
	r.snapshot[path] = content
}

func (r *Room) appendHistory(entry domain.ChatEntry) {
	r.history.Append(entry)
}

func (r *Room) History() []domain.ChatEntry {
	return r.history.Entries()
}

func (r *Room) readyFor(s *Session, pending []domain.Suggestion) domain.Ready {
	ready := domain.Ready{
		Type:   domain.TypeReady,
		DocID:  r.id,
		Mode:   r.mode,
		Editor: r.EditorName(),
		Files:  r.Files(),
		Users:  r.Users(),
		History: lo.Map(r.History(), func(e domain.ChatEntry, _ int) domain.ChatMessage {
			return domain.NewChatMessage(e)
		}),
	}
	if r.IsWriter(s) {
		// A writer is never handed its own proposals.
		others := lo.Filter(pending, func(sug domain.Suggestion, _ int) bool { return sug.User != s.User })
		if len(others) > 0 {
			ready.Suggestions = domain.NewSuggestionMessages(others)
		}
	}
	return ready
}

// deliver pushes an encoded message to every local session.
// A failing recipient is skipped; its own disconnect path reaps it.
func (r *Room) deliver(payload []byte, except string) {
	for id, s := range r.sessions {
		if id == except {
			continue
		}
		if err := s.Conn.Send(payload); err != nil {
			r.log.Debug("Dropping message for recipient", "room_id", r.id, "conn_id", id, "error", err)
		}
	}
}

func encode(msg domain.Outbound) ([]byte, error) {
	return json.Marshal(msg)
}
