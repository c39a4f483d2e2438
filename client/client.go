package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress string `env:"JOIN_CODE_SERVER_ADDR,default=localhost:8000"`
	RoomID        string `env:"JOIN_CODE_ROOM,default=lobby"`
	User          string `env:"JOIN_CODE_USER,default=guest"`
	LogLevel      string `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run connects to a room, prints everything the room receives and turns
// stdin lines into commands until Ctrl+C or the server closes the stream.
func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint := url.URL{
		Scheme: "ws",
		Host:   config.ServerAddress,
		Path:   fmt.Sprintf("/ws/%s/%s", url.PathEscape(config.RoomID), url.PathEscape(config.User)),
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to %s: %w", endpoint.String(), err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	color.Info.Printf(">>> Connected to room %s as %s (Ctrl+C to quit)\n", config.RoomID, config.User)
	printHelp()

	received := make(chan error, 1)
	go func() { received <- readLoop(conn) }()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case err := <-received:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("stream closed: %w", err)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			frame, err := toFrame(line)
			if err != nil {
				color.Warn.Println(err)
				continue
			}
			if frame == nil {
				continue
			}
			if err = conn.WriteJSON(frame); err != nil {
				return exitRuntime, fmt.Errorf("send failed: %w", err)
			}
		}
	}
}

func printHelp() {
	color.Gray.Println("  /take [user]  /give <user>  /lock  /release  /code <text>  /accept <id>  /reject <id>")
	color.Gray.Println("  /suggest <start> <end> <text>  anything else is sent as chat")
}

// toFrame maps a typed line to a command frame. Blank lines yield nil.
func toFrame(line string) (map[string]any, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return map[string]any{"type": "chat_message", "message": line}, nil
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	switch cmd {
	case "take":
		return map[string]any{"type": "take_turn", "user": arg}, nil
	case "give":
		if arg == "" {
			return nil, fmt.Errorf("usage: /give <user>")
		}
		return map[string]any{"type": "give_turn", "user": arg}, nil
	case "lock":
		return map[string]any{"type": "request_lock"}, nil
	case "release":
		return map[string]any{"type": "release_lock"}, nil
	case "code":
		return map[string]any{"type": "code_update", "value": arg}, nil
	case "accept", "reject":
		var id int64
		if _, err := fmt.Sscan(arg, &id); err != nil {
			return nil, fmt.Errorf("usage: /%s <id>", cmd)
		}
		return map[string]any{"type": "handle_suggestion", "suggestion_id": id, "action": cmd}, nil
	case "suggest":
		var start, end int
		var text string
		parts := strings.SplitN(arg, " ", 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("usage: /suggest <start> <end> <text>")
		}
		if _, err := fmt.Sscan(parts[0]+" "+parts[1], &start, &end); err != nil {
			return nil, fmt.Errorf("usage: /suggest <start> <end> <text>")
		}
		text = parts[2]
		return map[string]any{"type": "create_suggestion", "line_start": start, "line_end": end, "suggested_code": text}, nil
	default:
		return nil, fmt.Errorf("unknown command /%s", cmd)
	}
}

func readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		render(frame)
	}
}

func render(frame []byte) {
	var msg map[string]any
	if err := json.Unmarshal(frame, &msg); err != nil {
		color.Warn.Printf("undecodable frame: %s\n", frame)
		return
	}
	switch msg["type"] {
	case "ready":
		color.Green.Printf("[ready] mode=%v editor=%v users=%v\n", msg["mode"], msg["editor"], msg["users"])
		if files, ok := msg["files"].(map[string]any); ok {
			for path, content := range files {
				color.Cyan.Printf("--- %s ---\n%v\n", path, content)
			}
		}
	case "sync":
		color.Cyan.Printf("[sync] %v by %v:\n%v\n", msg["path"], msg["editor"], msg["value"])
	case "chat_message":
		color.White.Printf("<%v> %v\n", msg["user"], msg["message"])
	case "turn_update", "lock_granted":
		color.Magenta.Printf("[%v] editor=%v\n", msg["type"], firstOf(msg, "editor", "user"))
	case "lock_denied":
		color.Yellow.Printf("[lock_denied] held by %v\n", msg["holder"])
	case "lock_released":
		color.Magenta.Printf("[lock_released] %v\n", msg["message"])
	case "error":
		color.Error.Printf("[error:%v] %v\n", msg["kind"], msg["message"])
	default:
		color.Gray.Printf("[%v] %s\n", msg["type"], frame)
	}
}

func firstOf(msg map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := msg[k]; ok {
			return v
		}
	}
	return ""
}
