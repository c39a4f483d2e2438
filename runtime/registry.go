package runtime

import (
	"fmt"
	"log/slog"
	"sync"

	"join-code/domain"
	"join-code/errors"

	"github.com/samber/lo"
)

// Registry owns every Room of this process.
// mu only guards the map; each room carries its own mutex so unrelated
// rooms never contend.
type Registry struct {
	mu             sync.Mutex
	rooms          map[domain.RoomID]*Room
	log            *slog.Logger
	mode           domain.TurnMode
	instanceID     string
	defaultPath    string
	defaultContent string
	historySize    int
}

func NewRegistry(log *slog.Logger, mode domain.TurnMode, instanceID, defaultPath, defaultContent string, historySize int) *Registry {
	return &Registry{
		rooms:          make(map[domain.RoomID]*Room),
		log:            log,
		mode:           mode,
		instanceID:     instanceID,
		defaultPath:    defaultPath,
		defaultContent: defaultContent,
		historySize:    historySize,
	}
}

// DetachResult describes the room after a session left.
type DetachResult struct {
	User  string
	Users []string
	Empty bool
}

func (r *Registry) Mode() domain.TurnMode { return r.mode }

func (r *Registry) DefaultPath() string { return r.defaultPath }

// GetOrCreate returns the room, creating it from seed when it is unknown.
// Creation is atomic: concurrent callers for the same id share one room,
// initialised from the seed of whichever caller created it.
func (r *Registry) GetOrCreate(roomID domain.RoomID, seed domain.Seed) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok && !room.evicted.Load() {
		return room, false
	}
	room := newRoom(roomID, r.mode, r.initialSnapshot(seed), r.initialHistory(seed), r.log)
	r.rooms[roomID] = room
	r.log.Debug("Room created", "room_id", roomID, "mode", r.mode)
	return room, true
}

func (r *Registry) initialSnapshot(seed domain.Seed) domain.Snapshot {
	snapshot := domain.NewSnapshot(r.defaultPath, r.defaultContent)
	for path, content := range seed.Files {
		snapshot[path] = content
	}
	return snapshot
}

func (r *Registry) initialHistory(seed domain.Seed) *domain.History {
	history := domain.NewHistory(r.historySize)
	for _, entry := range seed.History {
		history.Append(entry)
	}
	return history
}

func (r *Registry) Lookup(roomID domain.RoomID) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok || room.evicted.Load() {
		return nil, false
	}
	return room, true
}

// Update runs fn with the room locked. It fails with ErrRoomNotFound when
// the room does not exist or has just been evicted.
func (r *Registry) Update(roomID domain.RoomID, fn func(room *Room) error) error {
	room, ok := r.Lookup(roomID)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrRoomNotFound, roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.evicted.Load() {
		return fmt.Errorf("%w: %s", errors.ErrRoomNotFound, roomID)
	}
	return fn(room)
}

// Attach registers the session and synchronously sends it the full room state.
// In advisory mode the first session of an empty room becomes the writer;
// in strict mode rooms start unlocked.
func (r *Registry) Attach(s *Session, seed domain.Seed) error {
	for {
		room, _ := r.GetOrCreate(s.Room, seed)
		room.mu.Lock()
		if room.evicted.Load() {
			// Lost the race against the last session leaving; start over on a fresh room.
			room.mu.Unlock()
			continue
		}
		granted := false
		if r.mode == domain.ModeAdvisory && room.writer == nil && len(room.sessions) == 0 {
			room.setWriter(domain.WriteGrant{ConnID: s.ID, User: s.User, Instance: r.instanceID})
			granted = true
		}
		room.sessions[s.ID] = s
		payload, err := encode(room.readyFor(s, seed.Pending))
		if err == nil {
			err = s.Conn.Send(payload)
		}
		if err != nil {
			// The caller never gets a session to detach: undo the attach here.
			delete(room.sessions, s.ID)
			if granted {
				room.clearWriter()
			}
			empty := len(room.sessions) == 0
			if empty {
				room.evicted.Store(true)
			}
			room.mu.Unlock()
			if empty {
				r.remove(s.Room, room)
			}
			return fmt.Errorf("%w: ready: %v", errors.ErrTransport, err)
		}
		room.mu.Unlock()
		r.log.Info("Session attached", "room_id", s.Room, "user", s.User, "conn_id", s.ID)
		return nil
	}
}

// Detach removes the session. When it held the write grant, the grant is
// cleared and onWriterLost runs inside the same critical section, so no
// other transition can observe a departed holder. Empty rooms are evicted.
func (r *Registry) Detach(roomID domain.RoomID, connID string, onWriterLost func(room *Room, grant domain.WriteGrant)) (DetachResult, error) {
	room, ok := r.Lookup(roomID)
	if !ok {
		return DetachResult{}, fmt.Errorf("%w: %s", errors.ErrRoomNotFound, roomID)
	}

	room.mu.Lock()
	s, ok := room.sessions[connID]
	if !ok {
		room.mu.Unlock()
		return DetachResult{}, fmt.Errorf("%w: connection %s not in %s", errors.ErrRoomNotFound, connID, roomID)
	}
	delete(room.sessions, connID)
	if room.writer != nil && room.writer.ConnID == connID {
		grant := *room.writer
		room.clearWriter()
		if onWriterLost != nil {
			onWriterLost(room, grant)
		}
	}
	res := DetachResult{User: s.User, Users: room.Users(), Empty: len(room.sessions) == 0}
	if res.Empty {
		room.evicted.Store(true)
	}
	room.mu.Unlock()

	if res.Empty {
		r.remove(roomID, room)
	}
	r.log.Info("Session detached", "room_id", roomID, "user", s.User, "conn_id", connID, "room_empty", res.Empty)
	return res, nil
}

// Remove drops the room from the table whatever its state.
func (r *Registry) Remove(roomID domain.RoomID) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return
	}
	room.mu.Lock()
	room.evicted.Store(true)
	room.mu.Unlock()
	r.remove(roomID, room)
}

func (r *Registry) remove(roomID domain.RoomID, room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.rooms[roomID]; ok && current == room {
		delete(r.rooms, roomID)
		r.log.Debug("Room evicted", "room_id", roomID)
	}
}

// Users returns the labels attached to the room on this instance.
func (r *Registry) Users(roomID domain.RoomID) []string {
	var users []string
	_ = r.Update(roomID, func(room *Room) error {
		users = room.Users()
		return nil
	})
	return users
}

func (r *Registry) Writer(roomID domain.RoomID) (domain.WriteGrant, bool) {
	var (
		grant domain.WriteGrant
		ok    bool
	)
	_ = r.Update(roomID, func(room *Room) error {
		grant, ok = room.Writer()
		return nil
	})
	return grant, ok
}

// LocalGrants returns, per room, the grant held by a session of this instance.
func (r *Registry) LocalGrants() map[domain.RoomID]domain.WriteGrant {
	r.mu.Lock()
	rooms := lo.Values(r.rooms)
	r.mu.Unlock()

	grants := make(map[domain.RoomID]domain.WriteGrant)
	for _, room := range rooms {
		room.mu.Lock()
		if grant, ok := room.Writer(); ok && !room.evicted.Load() && grant.Instance == r.instanceID && grant.ConnID != "" {
			grants[room.id] = grant
		}
		room.mu.Unlock()
	}
	return grants
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Connections counts the sessions attached to this instance.
func (r *Registry) Connections() int {
	r.mu.Lock()
	rooms := lo.Values(r.rooms)
	r.mu.Unlock()
	return lo.SumBy(rooms, func(room *Room) int {
		room.mu.Lock()
		defer room.mu.Unlock()
		return room.Len()
	})
}
