package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"join-code/contract"
	"join-code/domain"
	"join-code/infrastructure/bus"
	"join-code/infrastructure/storage"
	"join-code/runtime/workers"

	"github.com/stretchr/testify/require"
)

// recorder is a contract.Conn keeping every frame it was sent.
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (r *recorder) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, payload)
	return nil
}

func (r *recorder) messages() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]map[string]any, 0, len(r.frames))
	for _, f := range r.frames {
		var m map[string]any
		_ = json.Unmarshal(f, &m)
		res = append(res, m)
	}
	return res
}

func (r *recorder) types() []string {
	var res []string
	for _, m := range r.messages() {
		res = append(res, m["type"].(string))
	}
	return res
}

// last returns the most recent message of msgType, or nil.
func (r *recorder) last(msgType domain.MessageType) map[string]any {
	msgs := r.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == string(msgType) {
			return msgs[i]
		}
	}
	return nil
}

func (r *recorder) count(msgType domain.MessageType) int {
	n := 0
	for _, t := range r.types() {
		if t == string(msgType) {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

// node is one server instance wired on in-memory infrastructure.
type node struct {
	id          string
	store       contract.Store
	registry    *Registry
	router      *Router
	arbiter     *Arbiter
	documents   *Documents
	chat        *Chat
	suggestions *SuggestionWorkflow
}

type fakeImporter struct {
	content string
	err     error
}

func (f fakeImporter) Fetch(context.Context, string, string) (string, error) {
	return f.content, f.err
}

func newNode(id string, mode domain.TurnMode, b contract.Bus, locker contract.LockStore, store contract.Store) *node {
	log := slog.Default()
	registry := NewRegistry(log, mode, id, "main.py", "", 50)
	router := NewRouter(log, registry, b, "broadcast", id)
	arbiter := NewArbiter(log, registry, router, locker, store)
	return &node{
		id:          id,
		store:       store,
		registry:    registry,
		router:      router,
		arbiter:     arbiter,
		documents:   NewDocuments(log, registry, router, arbiter, store, fakeImporter{content: "imported"}, 1024),
		chat:        NewChat(log, registry, router, store),
		suggestions: NewSuggestionWorkflow(log, registry, router, arbiter, store),
	}
}

// newLocalNode is a single instance with its own bus, lock and store.
func newLocalNode(mode domain.TurnMode) *node {
	return newNode("i1", mode, bus.NewMemoryBus(64), bus.NewMemoryLocker(), storage.NewMemoryStore("main.py", ""))
}

// join attaches user the way the session service does: seed from the store first.
func (n *node) join(t *testing.T, room domain.RoomID, user string) (*Session, *recorder) {
	t.Helper()
	ctx := context.Background()
	req := require.New(t)
	req.NoError(n.store.CreateRoomIfAbsent(ctx, room))
	files, err := n.store.GetContent(ctx, room)
	req.NoError(err)
	history, err := n.store.GetChatHistory(ctx, room, 50)
	req.NoError(err)
	pending, err := n.store.GetPendingSuggestions(ctx, room)
	req.NoError(err)

	rec := &recorder{}
	s := NewSession(room, user, rec)
	req.NoError(n.registry.Attach(s, domain.Seed{Files: files, History: history, Pending: pending}))
	return s, rec
}

// cluster runs several nodes sharing one bus, lock store and database,
// each with its bus workers under a supervisor.
type cluster struct {
	bus   *bus.MemoryBus
	nodes []*node
}

func newCluster(t *testing.T, mode domain.TurnMode, size int) *cluster {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.NewMemoryBus(256)
	locker := bus.NewMemoryLocker()
	store := storage.NewMemoryStore("main.py", "")
	c := &cluster{bus: b}
	for i := 0; i < size; i++ {
		n := newNode(string(rune('a'+i)), mode, b, locker, store)
		orchestrator := NewOrchestrator(slog.Default(), workers.NewSupervisor(slog.Default(), 10*time.Millisecond), n.router, b, "broadcast", 64)
		go func() { _ = orchestrator.Start(ctx) }()
		c.nodes = append(c.nodes, n)
	}
	require.Eventually(t, func() bool { return b.Subscribers("broadcast") == size }, time.Second, 5*time.Millisecond)
	return c
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}
