package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/zhaopengme/keycheck/pkg/bus"
	"github.com/zhaopengme/keycheck/pkg/logger"
	"github.com/zhaopengme/keycheck/pkg/messaging"
)

const (
	pingInterval         = 30 * time.Second
	readTimeout          = 60 * time.Second
	minReconnectInterval = time.Second
)

type Options struct {
	URL             string
	Env             string
	WalletKey       string
	DBEncryptionKey string
	DBPath          string
	TokenSource     oauth2.TokenSource
	// ReconnectInterval is how often a dropped connection is re-dialed.
	// Zero disables reconnection.
	ReconnectInterval time.Duration
	HandshakeTimeout  time.Duration
	// HelloTimeout bounds the hello exchange after each connect.
	HelloTimeout time.Duration
}

// Client is a messaging.Client backed by a websocket bridge. Inbound message
// events are published on the bus in the order the bridge emits them.
type Client struct {
	opts      Options
	publisher bus.Publisher

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	inboxID string
	version string

	writeMu   sync.Mutex
	pending   map[string]chan Frame
	pendingMu sync.Mutex

	// events queues inbound messages between the reader and the bus so a
	// full bus never stalls response frames.
	events      []bus.InboundMessage
	eventsMu    sync.Mutex
	eventsReady chan struct{}
}

func NewClient(opts Options, publisher bus.Publisher) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = 30 * time.Second
	}
	return &Client{
		opts:        opts,
		publisher:   publisher,
		pending:     make(map[string]chan Frame),
		eventsReady: make(chan struct{}, 1),
	}
}

// Start connects and authenticates. A failure here is a bootstrap failure;
// later connection drops are retried in the background.
func (c *Client) Start(ctx context.Context) error {
	if c.opts.URL == "" {
		return fmt.Errorf("bridge url not configured")
	}

	logger.InfoCF("bridge", "Connecting to bridge", map[string]interface{}{
		"url": c.opts.URL,
		"env": c.opts.Env,
	})

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		c.cancel()
		return fmt.Errorf("connect bridge: %w", err)
	}
	if err := c.hello(); err != nil {
		c.Stop()
		return fmt.Errorf("bridge hello: %w", err)
	}

	if c.publisher != nil {
		go c.forwardEvents()
	}
	if c.opts.ReconnectInterval > 0 {
		go c.reconnectLoop()
	}

	logger.InfoCF("bridge", "Bridge client started", map[string]interface{}{
		"inbox_id":    c.InboxID(),
		"sdk_version": c.LibraryVersion(),
	})
	return nil
}

func (c *Client) Stop() error {
	logger.InfoC("bridge", "Stopping bridge client")
	if c.cancel != nil {
		c.cancel()
	}

	c.failPending()

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.opts.HandshakeTimeout

	header := make(http.Header)
	if c.opts.TokenSource != nil {
		tok, err := c.opts.TokenSource.Token()
		if err != nil {
			return fmt.Errorf("fetch bridge token: %w", err)
		}
		header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}

	conn, _, err := dialer.DialContext(c.ctx, c.opts.URL, header)
	if err != nil {
		return err
	}

	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.listen(conn)
	go c.pinger(conn)

	logger.InfoC("bridge", "WebSocket connected")
	return nil
}

func (c *Client) hello() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.HelloTimeout)
	defer cancel()

	var res HelloResult
	err := c.call(ctx, MethodHello, HelloParams{
		Env:             c.opts.Env,
		WalletKey:       c.opts.WalletKey,
		DBEncryptionKey: c.opts.DBEncryptionKey,
		DBPath:          c.opts.DBPath,
	}, &res)
	if err != nil {
		return err
	}
	if res.InboxID == "" {
		return fmt.Errorf("bridge returned no inbox id")
	}

	c.mu.Lock()
	c.inboxID = res.InboxID
	c.version = res.SDKVersion
	c.mu.Unlock()
	return nil
}

func (c *Client) pinger(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				logger.DebugCF("bridge", "Ping write failed, stopping pinger", map[string]interface{}{
					"error": err.Error(),
				})
				return
			}
		}
	}
}

func (c *Client) listen(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				logger.ErrorCF("bridge", "WebSocket read error", map[string]interface{}{
					"error": err.Error(),
				})
			}
			c.dropConn(conn)
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.WarnCF("bridge", "Failed to unmarshal frame", map[string]interface{}{
				"error":   err.Error(),
				"payload": string(data),
			})
			continue
		}

		if frame.ID != "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[frame.ID]
			if ok {
				select {
				case ch <- frame:
				default:
				}
			}
			c.pendingMu.Unlock()
			if !ok {
				logger.DebugCF("bridge", "Received response (no waiter)", map[string]interface{}{
					"id": frame.ID,
				})
			}
			continue
		}

		c.handleEvent(frame)
	}
}

func (c *Client) handleEvent(frame Frame) {
	switch frame.Event {
	case EventMessage:
		var ev MessageEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			logger.WarnCF("bridge", "Malformed message event", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		if c.publisher == nil {
			return
		}
		c.enqueueEvent(bus.InboundMessage{
			ID:             ev.ID,
			SenderInboxID:  ev.SenderInboxID,
			ConversationID: ev.ConversationID,
			ContentType:    ev.ContentType,
			Content:        ev.Content,
		})
	default:
		logger.DebugCF("bridge", "Ignoring bridge event", map[string]interface{}{
			"event": frame.Event,
		})
	}
}

func (c *Client) reconnectLoop() {
	interval := c.opts.ReconnectInterval
	if interval < minReconnectInterval {
		interval = minReconnectInterval
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn != nil {
				continue
			}

			logger.InfoC("bridge", "Attempting to reconnect...")
			if err := c.connect(); err != nil {
				logger.ErrorCF("bridge", "Reconnect failed", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			if err := c.hello(); err != nil {
				logger.ErrorCF("bridge", "Hello after reconnect failed", map[string]interface{}{
					"error": err.Error(),
				})
				c.mu.Lock()
				conn = c.conn
				c.mu.Unlock()
				if conn != nil {
					c.dropConn(conn)
				}
			}
		}
	}
}

// dropConn closes conn if it is still the current connection and fails the
// calls waiting on it.
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if current {
		c.failPending()
	}
}

// failPending wakes every waiting call with ErrNotConnected.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) enqueueEvent(msg bus.InboundMessage) {
	c.eventsMu.Lock()
	c.events = append(c.events, msg)
	c.eventsMu.Unlock()

	select {
	case c.eventsReady <- struct{}{}:
	default:
	}
}

// forwardEvents publishes queued events to the bus in arrival order. It may
// block on a full bus; the reader never does.
func (c *Client) forwardEvents() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.eventsReady:
		}

		c.eventsMu.Lock()
		batch := c.events
		c.events = nil
		c.eventsMu.Unlock()

		for _, msg := range batch {
			if c.ctx.Err() != nil {
				return
			}
			c.publisher.PublishInbound(msg)
		}
	}
}

// call sends one request and waits for its response, decoding the result
// into out when out is non-nil.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return messaging.ErrNotConnected
	}

	id := uuid.NewString()
	ch := make(chan Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case frame, ok := <-ch:
		if !ok {
			return messaging.ErrNotConnected
		}
		if frame.Error != nil {
			return fmt.Errorf("%s: %w", method, frame.Error)
		}
		if out == nil || len(frame.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(frame.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", method, messaging.ErrTimeout)
		}
		return ctx.Err()
	case <-c.ctx.Done():
		return messaging.ErrNotConnected
	}
}

func (c *Client) InboxID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inboxID
}

func (c *Client) LibraryVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Client) GetConversationByID(ctx context.Context, id string) (messaging.Conversation, error) {
	var res ConversationGetResult
	if err := c.call(ctx, MethodConversationGet, ConversationParams{ConversationID: id}, &res); err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, nil
	}
	return &Conversation{id: id, client: c}, nil
}

func (c *Client) ResolveInboxIDByAddress(ctx context.Context, address string, kind messaging.IdentifierKind) (string, error) {
	var res ResolveResult
	if err := c.call(ctx, MethodIdentityResolve, ResolveParams{Identifier: address, Kind: kind}, &res); err != nil {
		return "", err
	}
	return res.InboxID, nil
}

func (c *Client) InboxStateFromInboxIDs(ctx context.Context, inboxIDs []string, forceRefresh bool) ([]messaging.InboxState, error) {
	var res InboxStateResult
	if err := c.call(ctx, MethodInboxState, InboxStateParams{InboxIDs: inboxIDs, ForceRefresh: forceRefresh}, &res); err != nil {
		return nil, err
	}
	return res.States, nil
}

func (c *Client) KeyPackageStatusesForInstallationIDs(ctx context.Context, installationIDs []string) ([]messaging.KeyPackageStatus, error) {
	var res KeyPackageStatusResult
	if err := c.call(ctx, MethodKeyPackageStatus, KeyPackageStatusParams{InstallationIDs: installationIDs}, &res); err != nil {
		return nil, err
	}
	return res.Statuses, nil
}

// Conversation is a conversation handle resolved through the bridge.
type Conversation struct {
	id     string
	client *Client
}

func (c *Conversation) ID() string {
	return c.id
}

func (c *Conversation) Send(ctx context.Context, text string) error {
	return c.client.call(ctx, MethodConversationSend, SendParams{ConversationID: c.id, Text: text}, nil)
}

func (c *Conversation) Members(ctx context.Context) ([]messaging.Member, error) {
	var res MembersResult
	if err := c.client.call(ctx, MethodConversationMembers, ConversationParams{ConversationID: c.id}, &res); err != nil {
		return nil, err
	}
	return res.Members, nil
}
