// Package ws carries the command and replication channels over a
// websocket: observer commands inbound, deltas/snapshots/acks outbound.
// Issuer identity is attached here from the session, never taken from the
// message body.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/sim/authority"
)

type Server struct {
	store *authority.Store
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(store *authority.Store, logger *log.Logger) *Server {
	return &Server{
		store: store,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, playerID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine: replication channel toward this observer.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: command channel from this observer.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeCmd:
				var cmd protocol.CmdMsg
				if err := json.Unmarshal(msg, &cmd); err != nil {
					continue
				}
				if cmd.ProtocolVersion != protocol.Version {
					continue
				}
				s.store.Inbox() <- authority.CmdEnvelope{
					SessionID: sessionID,
					IssuerID:  playerID,
					Cmd:       cmd,
				}
			case protocol.TypeResync:
				var rs protocol.ResyncMsg
				if err := json.Unmarshal(msg, &rs); err != nil {
					continue
				}
				s.store.Resync() <- authority.ResyncRequest{
					SessionID: sessionID,
					EntityID:  rs.EntityID,
				}
			}
		}

		// Cleanup.
		s.store.Leave() <- sessionID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID, playerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 64
	}
	if maxQ > 1024 {
		maxQ = 1024
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan authority.JoinResponse, 1)
	s.store.Join() <- authority.JoinRequest{
		Name: hello.PlayerName,
		Out:  out,
		Resp: respCh,
	}
	resp := <-respCh

	// Welcome, catalogs, then the late-join snapshots, in order.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		return "", "", nil
	}
	for _, c := range resp.Catalogs {
		if err := writeJSON(conn, c); err != nil {
			return "", "", nil
		}
	}
	for _, snap := range resp.Snapshots {
		if err := writeJSON(conn, snap); err != nil {
			return "", "", nil
		}
	}

	return resp.Welcome.SessionID, resp.Welcome.PlayerID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
