package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"join-code/domain"
	"join-code/errors"

	"github.com/samber/lo"
)

type memoryRoom struct {
	files       domain.Snapshot
	chat        []domain.ChatEntry
	createdAt   time.Time
	lastUpdated time.Time
}

// MemoryStore is the in-process contract.Store used when STORE_DRIVER=memory
// and in tests. Nothing survives a restart.
type MemoryStore struct {
	mu             sync.Mutex
	rooms          map[domain.RoomID]*memoryRoom
	suggestions    []domain.Suggestion
	nextID         int64
	defaultPath    string
	defaultContent string
}

func NewMemoryStore(defaultPath, defaultContent string) *MemoryStore {
	return &MemoryStore{
		rooms:          make(map[domain.RoomID]*memoryRoom),
		defaultPath:    defaultPath,
		defaultContent: defaultContent,
	}
}

func (s *MemoryStore) CreateRoomIfAbsent(_ context.Context, room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; ok {
		return nil
	}
	now := time.Now()
	s.rooms[room] = &memoryRoom{
		files:       domain.NewSnapshot(s.defaultPath, s.defaultContent),
		createdAt:   now,
		lastUpdated: now,
	}
	return nil
}

func (s *MemoryStore) room(room domain.RoomID) (*memoryRoom, error) {
	r, ok := s.rooms[room]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrRoomNotFound, room)
	}
	return r, nil
}

func (s *MemoryStore) GetContent(_ context.Context, room domain.RoomID) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.room(room)
	if err != nil {
		return nil, err
	}
	return r.files.Clone(), nil
}

func (s *MemoryStore) SetContent(_ context.Context, room domain.RoomID, path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.room(room)
	if err != nil {
		return err
	}
	r.files[path] = content
	r.lastUpdated = time.Now()
	return nil
}

func (s *MemoryStore) AppendChatMessage(_ context.Context, entry domain.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.room(entry.Room)
	if err != nil {
		return err
	}
	r.chat = append(r.chat, entry)
	return nil
}

func (s *MemoryStore) GetChatHistory(_ context.Context, room domain.RoomID, limit int) ([]domain.ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.room(room)
	if err != nil {
		return nil, err
	}
	from := max(len(r.chat)-limit, 0)
	return append([]domain.ChatEntry(nil), r.chat[from:]...), nil
}

func (s *MemoryStore) CreateSuggestion(_ context.Context, suggestion domain.Suggestion) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.room(suggestion.Room); err != nil {
		return 0, err
	}
	s.nextID++
	suggestion.ID = s.nextID
	suggestion.Status = domain.SuggestionPending
	if suggestion.CreatedAt.IsZero() {
		suggestion.CreatedAt = time.Now()
	}
	s.suggestions = append(s.suggestions, suggestion)
	return suggestion.ID, nil
}

func (s *MemoryStore) GetPendingSuggestions(_ context.Context, room domain.RoomID) ([]domain.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Filter(s.suggestions, func(sug domain.Suggestion, _ int) bool {
		return sug.Room == room && sug.Status == domain.SuggestionPending
	}), nil
}

func (s *MemoryStore) GetSuggestion(_ context.Context, room domain.RoomID, id int64) (domain.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sug, found := lo.Find(s.suggestions, func(sug domain.Suggestion) bool {
		return sug.ID == id && sug.Room == room
	})
	if !found {
		return domain.Suggestion{}, fmt.Errorf("%w: %d in room %s", errors.ErrSuggestionNotFound, id, room)
	}
	return sug, nil
}

func (s *MemoryStore) UpdateSuggestionStatus(_ context.Context, room domain.RoomID, id int64, status domain.SuggestionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, idx, found := lo.FindIndexOf(s.suggestions, func(sug domain.Suggestion) bool {
		return sug.ID == id && sug.Room == room
	})
	if !found {
		return fmt.Errorf("%w: %d in room %s", errors.ErrSuggestionNotFound, id, room)
	}
	if current := s.suggestions[idx].Status; current != domain.SuggestionPending {
		return fmt.Errorf("%w: %d is %s", errors.ErrSuggestionResolved, id, current)
	}
	s.suggestions[idx].Status = status
	return nil
}

func (s *MemoryStore) GetRoomStats(_ context.Context, room domain.RoomID) (domain.RoomStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.room(room)
	if err != nil {
		return domain.RoomStats{RoomID: room}, err
	}
	return domain.RoomStats{
		RoomID:       room,
		Name:         fmt.Sprintf("Room %s", room),
		MessageCount: int64(len(r.chat)),
		SuggestionCount: int64(lo.CountBy(s.suggestions, func(sug domain.Suggestion) bool {
			return sug.Room == room
		})),
		CreatedAt:    r.createdAt,
		LastActivity: r.lastUpdated,
	}, nil
}
