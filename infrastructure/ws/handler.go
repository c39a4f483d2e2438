package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"join-code/domain"
	"join-code/errors"
	"join-code/services"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const defaultUser = "guest"

type Options struct {
	BufferSize   int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	ReadLimit    int64
	LeaveTimeout time.Duration
}

// pingInterval must stay below the pong timeout or idle peers get dropped.
func (o Options) pingInterval() time.Duration {
	return o.PongTimeout * 9 / 10
}

type Handler struct {
	log      *slog.Logger
	service  services.ISessionService
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(log *slog.Logger, service services.ISessionService, opts Options) *Handler {
	return &Handler{
		log:     log,
		service: service,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws/{room}", h.serveWS).Methods(http.MethodGet)
	router.HandleFunc("/ws/{room}/{user}", h.serveWS).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room}/info", h.roomInfo).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID := domain.RoomID(vars["room"])
	user, inPath := vars["user"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Upgrade failed", "room_id", roomID, "error", err)
		return
	}
	conn.SetReadLimit(h.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	if !inPath {
		if user, err = h.readJoin(conn); err != nil {
			h.reject(conn, err)
			return
		}
	}
	if user == "" {
		user = defaultUser
	}

	// The request context ends with the handler; leaving must outlive it.
	ctx := context.WithoutCancel(r.Context())
	client := NewClient(h.log, conn, h.opts.BufferSize, h.opts.WriteTimeout, h.opts.pingInterval())
	go client.writePump()
	defer client.Close()

	session, err := h.service.Join(ctx, roomID, user, client)
	if err != nil {
		h.log.Warn("Join failed", "room_id", roomID, "user", user, "error", err)
		return
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(ctx, h.opts.LeaveTimeout)
		defer cancel()
		h.service.Leave(leaveCtx, session)
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Connection lost", "room_id", roomID, "user", user, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
		h.service.Handle(ctx, session, frame)
	}
}

// readJoin expects the first frame of an anonymous connection to be a join.
func (h *Handler) readJoin(conn *websocket.Conn) (string, error) {
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	var join struct {
		Type domain.MessageType `json:"type"`
		User string             `json:"user"`
	}
	if err = json.Unmarshal(frame, &join); err != nil {
		return "", errors.Validationf("malformed frame: %v", err)
	}
	if join.Type != domain.TypeJoin {
		return "", errors.Validationf("first message must be %q, got %q", domain.TypeJoin, join.Type)
	}
	if len(join.User) > 64 {
		return "", errors.Validationf("user name too long")
	}
	return join.User, nil
}

// reject answers before the writer goroutine exists, then closes.
func (h *Handler) reject(conn *websocket.Conn, err error) {
	defer func() { _ = conn.Close() }()
	kind := errors.KindOf(err)
	if kind == errors.KindInternal {
		h.log.Debug("Connection closed before join", "error", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	_ = conn.WriteJSON(domain.NewErrorMessage(string(kind), err.Error()))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join required"))
}

func (h *Handler) roomInfo(w http.ResponseWriter, r *http.Request) {
	roomID := domain.RoomID(mux.Vars(r)["room"])
	info, err := h.service.RoomInfo(r.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.KindOf(err) == errors.KindNotFound {
			status = http.StatusNotFound
		} else {
			h.log.Error("Room info failed", "room_id", roomID, "error", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(info); err != nil {
		h.log.Debug("Room info not written", "room_id", roomID, "error", err)
	}
}
