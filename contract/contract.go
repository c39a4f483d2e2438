//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"join-code/domain"
	"join-code/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Conn is the outbound half of a client stream.
// Send must not block: it fails when the stream is closed or cannot keep up,
// and the caller is expected to drop the recipient for that message only.
type Conn interface {
	Send(payload []byte) error
}

// Bus is the publish/subscribe channel shared by every instance.
// Subscribe blocks until ctx is done and calls handler for every message;
// a slow handler never blocks Publish callers.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error
}

// BusHandler consumes events replicated by other instances.
type BusHandler interface {
	OnBusMessage(ctx context.Context, evt event.ReplicatedEvent)
}

// Gauges exposes the live counters of one instance.
type Gauges interface {
	Rooms() int
	Connections() int
	Suppressed() uint64
}

// LockStore is the cross-instance compare-and-set on a room's lock holder.
type LockStore interface {
	Acquire(ctx context.Context, room domain.RoomID, holder string) (bool, error)
	Release(ctx context.Context, room domain.RoomID, holder string) (bool, error)
	Refresh(ctx context.Context, room domain.RoomID, holder string) (bool, error)
}

// Store is the persistence gateway for rooms, documents, chat and suggestions.
type Store interface {
	CreateRoomIfAbsent(ctx context.Context, room domain.RoomID) error
	GetContent(ctx context.Context, room domain.RoomID) (domain.Snapshot, error)
	SetContent(ctx context.Context, room domain.RoomID, path, content string) error
	AppendChatMessage(ctx context.Context, entry domain.ChatEntry) error
	GetChatHistory(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatEntry, error)
	CreateSuggestion(ctx context.Context, suggestion domain.Suggestion) (int64, error)
	GetPendingSuggestions(ctx context.Context, room domain.RoomID) ([]domain.Suggestion, error)
	GetSuggestion(ctx context.Context, room domain.RoomID, id int64) (domain.Suggestion, error)
	// UpdateSuggestionStatus resolves a pending suggestion. A suggestion that
	// is no longer pending reports ErrSuggestionResolved.
	UpdateSuggestionStatus(ctx context.Context, room domain.RoomID, id int64, status domain.SuggestionStatus) error
	GetRoomStats(ctx context.Context, room domain.RoomID) (domain.RoomStats, error)
}

// LockKeeper extends the shared locks held by local sessions.
type LockKeeper interface {
	RefreshLocks(ctx context.Context)
}

// Censor masks forbidden words in user text and reports the words it matched.
type Censor interface {
	Censor(text string) (string, []string)
}

// Importer fetches a single file out of a remote repository.
type Importer interface {
	Fetch(ctx context.Context, repoURL, filePath string) (string, error)
}
