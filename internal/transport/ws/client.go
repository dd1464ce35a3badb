package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vigilkeep.gg/internal/protocol"
	"vigilkeep.gg/internal/replica"
)

// Client is a remote observer: it joins, keeps a local replica cache in
// sync from the delta stream, and issues commands. A detected version gap
// triggers a snapshot request instead of applying deltas out of order;
// after MaxResyncAttempts consecutive failures the entity is marked stale.
type Client struct {
	conn *websocket.Conn
	log  *log.Logger

	cache *replica.Cache

	playerID  string
	sessionID string
	params    protocol.WorldParams

	maxResync     int
	resyncTimeout time.Duration

	writeMu sync.Mutex

	mu             sync.Mutex
	resyncAttempts map[string]int
	resyncSentAt   map[string]time.Time
	onRejected     func(cmdID, code, message string)

	done chan struct{}
}

type ClientOptions struct {
	PlayerName        string
	MaxQueue          int
	MaxResyncAttempts int
}

func Dial(ctx context.Context, url string, opts ClientOptions, logger *log.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:           conn,
		log:            logger,
		cache:          replica.NewCache(),
		maxResync:      opts.MaxResyncAttempts,
		resyncTimeout:  2 * time.Second,
		resyncAttempts: map[string]int{},
		resyncSentAt:   map[string]time.Time{},
		done:           make(chan struct{}),
	}
	if c.maxResync <= 0 {
		c.maxResync = 3
	}
	c.cache.Registry().SetLogger(logger)

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      opts.PlayerName,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: opts.MaxQueue},
	}
	if err := c.writeJSON(hello); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", string(msg))
	}
	c.playerID = welcome.PlayerID
	c.sessionID = welcome.SessionID
	c.params = welcome.WorldParams

	go c.readLoop()
	return c, nil
}

func (c *Client) Cache() *replica.Cache             { return c.cache }
func (c *Client) PlayerID() string                  { return c.playerID }
func (c *Client) WorldParams() protocol.WorldParams { return c.params }

// OnCommandRejected registers the rejection callback. Delivered only for
// this client's own commands; accepted commands are observed through state
// change notifications instead.
func (c *Client) OnCommandRejected(fn func(cmdID, code, message string)) {
	c.mu.Lock()
	c.onRejected = fn
	c.mu.Unlock()
}

// IssueCommand sends one command. Fire-and-forget: the result arrives as a
// delta (accepted) or through OnCommandRejected. A send error means the
// command may not have been applied; the core never retries on its own.
func (c *Client) IssueCommand(entityID, kind string, payload any) (string, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		raw = b
	}
	cmd := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		CmdID:           uuid.NewString(),
		EntityID:        entityID,
		Kind:            kind,
		Payload:         raw,
		ClientTS:        time.Now().UnixMilli(),
	}
	if err := c.writeJSON(cmd); err != nil {
		return "", fmt.Errorf("command may not have been applied: %w", err)
	}
	return cmd.CmdID, nil
}

func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// Done closes when the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	defer func() {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeDelta:
			var d protocol.DeltaMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				continue
			}
			c.applyDelta(d)
		case protocol.TypeSnapshot:
			var snap protocol.SnapshotMsg
			if err := json.Unmarshal(msg, &snap); err != nil {
				continue
			}
			c.cache.ApplySnapshot(snap)
			c.mu.Lock()
			delete(c.resyncAttempts, snap.EntityID)
			delete(c.resyncSentAt, snap.EntityID)
			c.mu.Unlock()
		case protocol.TypeDespawn:
			var dm protocol.DespawnMsg
			if err := json.Unmarshal(msg, &dm); err != nil {
				continue
			}
			c.cache.Destroy(dm.EntityID)
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if ack.OK {
				continue
			}
			c.mu.Lock()
			fn := c.onRejected
			c.mu.Unlock()
			if fn != nil {
				fn(ack.AckFor, ack.Code, ack.Message)
			}
		}
	}
}

func (c *Client) applyDelta(d protocol.DeltaMsg) {
	err := c.cache.ApplyDelta(d)
	if err == nil {
		c.mu.Lock()
		delete(c.resyncAttempts, d.EntityID)
		delete(c.resyncSentAt, d.EntityID)
		c.mu.Unlock()
		return
	}
	// Missed a delta: repair with a snapshot, never partial application.
	// A burst of deltas queued behind the same gap rides on the request
	// already in flight; only an unanswered request counts as a failure.
	c.mu.Lock()
	if sent, ok := c.resyncSentAt[d.EntityID]; ok && time.Since(sent) < c.resyncTimeout {
		c.mu.Unlock()
		return
	}
	c.resyncAttempts[d.EntityID]++
	n := c.resyncAttempts[d.EntityID]
	c.resyncSentAt[d.EntityID] = time.Now()
	c.mu.Unlock()

	if n > c.maxResync {
		if c.log != nil {
			c.log.Printf("resync exhausted for %s after %d attempts, marking stale", d.EntityID, n-1)
		}
		c.cache.MarkStale(d.EntityID)
		return
	}
	if c.log != nil {
		c.log.Printf("version gap on %s (%v), requesting snapshot", d.EntityID, err)
	}
	_ = c.writeJSON(protocol.ResyncMsg{
		Type:            protocol.TypeResync,
		ProtocolVersion: protocol.Version,
		EntityID:        d.EntityID,
	})
}

func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}
