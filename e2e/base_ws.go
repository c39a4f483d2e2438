package e2e

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type BaseWsSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseWsSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerAddr == "" {
		s.T().Skip("E2E_SERVER_ADDR not set, skipping end-to-end suite")
	}
}

// Peer is one connected participant.
type Peer struct {
	s    *BaseWsSuite
	name string
	conn *websocket.Conn
}

// Connect joins room as user on addr and prints a colorized step header.
func (s *BaseWsSuite) Connect(addr, room, user string) *Peer {
	header := fmt.Sprintf("  ====== %s joins %s on %s ======", user, room, addr)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)

	endpoint := url.URL{Scheme: "ws", Host: addr, Path: fmt.Sprintf("/ws/%s/%s", room, user)}
	conn, _, err := websocket.DefaultDialer.Dial(endpoint.String(), nil)
	s.Require().NoError(err, "Failed to connect to "+endpoint.String())
	s.T().Cleanup(func() { _ = conn.Close() })
	return &Peer{s: s, name: user, conn: conn}
}

func (p *Peer) Send(frame map[string]any) {
	p.s.Require().NoError(p.conn.WriteJSON(frame))
}

// Expect reads frames until one of type msgType arrives and returns it.
func (p *Peer) Expect(msgType string) map[string]any {
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = p.conn.SetReadDeadline(deadline)
		_, frame, err := p.conn.ReadMessage()
		p.s.Require().NoError(err, "%s waiting for %s", p.name, msgType)
		if p.s.Config.DebugJSON {
			p.s.T().Logf("%s <- %s", p.name, frame)
		}
		var msg map[string]any
		p.s.Require().NoError(json.Unmarshal(frame, &msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}
