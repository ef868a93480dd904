package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/zhaopengme/keycheck/pkg/bus"
	"github.com/zhaopengme/keycheck/pkg/config"
	"github.com/zhaopengme/keycheck/pkg/memnet"
	"github.com/zhaopengme/keycheck/pkg/messaging"
)

// fakeBridge serves the bridge protocol from a memnet.Network.
type fakeBridge struct {
	network *memnet.Network
	srv     *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	hellos   []HelloParams
	auth     string
	silent   map[string]bool
	failures map[string]*RemoteError
	// helloFailures is how many upcoming hello requests are refused.
	helloFailures int

	writeMu sync.Mutex
}

func newFakeBridge(t *testing.T, n *memnet.Network) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{
		network:  n,
		silent:   make(map[string]bool),
		failures: make(map[string]*RemoteError),
	}
	upgrader := websocket.Upgrader{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conn = conn
		fb.auth = r.Header.Get("Authorization")
		fb.mu.Unlock()
		fb.serve(conn)
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBridge) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		fb.mu.Lock()
		silent := fb.silent[req.Method]
		remoteErr := fb.failures[req.Method]
		if req.Method == MethodHello && fb.helloFailures > 0 {
			fb.helloFailures--
			remoteErr = &RemoteError{Code: "not_ready", Message: "sdk not ready"}
		}
		fb.mu.Unlock()
		if silent {
			continue
		}

		frame := map[string]interface{}{"id": req.ID}
		if remoteErr != nil {
			frame["error"] = remoteErr
		} else {
			frame["result"] = fb.handle(req.Method, req.Params)
		}
		out, _ := json.Marshal(frame)
		fb.writeMu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, out)
		fb.writeMu.Unlock()
	}
}

func (fb *fakeBridge) handle(method string, raw json.RawMessage) interface{} {
	ctx := context.Background()
	n := fb.network
	switch method {
	case MethodHello:
		var p HelloParams
		_ = json.Unmarshal(raw, &p)
		fb.mu.Lock()
		fb.hellos = append(fb.hellos, p)
		fb.mu.Unlock()
		return HelloResult{InboxID: n.InboxID(), SDKVersion: n.LibraryVersion()}
	case MethodConversationGet:
		var p ConversationParams
		_ = json.Unmarshal(raw, &p)
		conv, _ := n.GetConversationByID(ctx, p.ConversationID)
		return ConversationGetResult{Found: conv != nil}
	case MethodConversationSend:
		var p SendParams
		_ = json.Unmarshal(raw, &p)
		conv, _ := n.GetConversationByID(ctx, p.ConversationID)
		if conv != nil {
			_ = conv.Send(ctx, p.Text)
		}
		return struct{}{}
	case MethodConversationMembers:
		var p ConversationParams
		_ = json.Unmarshal(raw, &p)
		conv, _ := n.GetConversationByID(ctx, p.ConversationID)
		members, _ := conv.Members(ctx)
		return MembersResult{Members: members}
	case MethodIdentityResolve:
		var p ResolveParams
		_ = json.Unmarshal(raw, &p)
		id, _ := n.ResolveInboxIDByAddress(ctx, p.Identifier, p.Kind)
		return ResolveResult{InboxID: id}
	case MethodInboxState:
		var p InboxStateParams
		_ = json.Unmarshal(raw, &p)
		states, _ := n.InboxStateFromInboxIDs(ctx, p.InboxIDs, p.ForceRefresh)
		return InboxStateResult{States: states}
	case MethodKeyPackageStatus:
		var p KeyPackageStatusParams
		_ = json.Unmarshal(raw, &p)
		statuses, _ := n.KeyPackageStatusesForInstallationIDs(ctx, p.InstallationIDs)
		return KeyPackageStatusResult{Statuses: statuses}
	}
	return nil
}

func (fb *fakeBridge) push(t *testing.T, event string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(Frame{Event: event, Data: payload})
	require.NoError(t, err)

	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	require.NotNil(t, conn)
	fb.writeMu.Lock()
	defer fb.writeMu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, out))
}

func (fb *fakeBridge) helloCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.hellos)
}

func (fb *fakeBridge) dropConn(t *testing.T) {
	t.Helper()
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.Close())
}

func (fb *fakeBridge) setSilent(method string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.silent[method] = true
}

func (fb *fakeBridge) setFailure(method string, err *RemoteError) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.failures[method] = err
}

func testNetwork() *memnet.Network {
	n := memnet.NewNetwork("bot-inbox")
	n.SetVersion("node-sdk/4.1.0")
	n.AddInbox(messaging.InboxState{
		InboxID:       "alice",
		Identifiers:   []messaging.Identifier{{Identifier: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", Kind: messaging.IdentifierKindEthereum}},
		Installations: []messaging.Installation{{ID: "inst-1"}, {ID: "inst-2"}},
	})
	n.SetKeyPackage(messaging.KeyPackageStatus{InstallationID: "inst-1", Lifetime: &messaging.Lifetime{NotBefore: 1, NotAfter: 2}})
	n.SetKeyPackage(messaging.KeyPackageStatus{InstallationID: "inst-2", ValidationError: "expired"})
	n.AddConversation("conv-1", "bot-inbox", "alice")
	return n
}

func startClient(t *testing.T, fb *fakeBridge, mb bus.Publisher, opts Options) *Client {
	t.Helper()
	opts.URL = fb.url()
	if opts.Env == "" {
		opts.Env = "dev"
	}
	c := NewClient(opts, mb)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestStartPerformsHello(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	c := startClient(t, fb, nil, Options{WalletKey: "wk", DBEncryptionKey: "dk", DBPath: "/tmp/db"})

	assert.Equal(t, "bot-inbox", c.InboxID())
	assert.Equal(t, "node-sdk/4.1.0", c.LibraryVersion())

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.hellos, 1)
	assert.Equal(t, HelloParams{Env: "dev", WalletKey: "wk", DBEncryptionKey: "dk", DBPath: "/tmp/db"}, fb.hellos[0])
}

func TestStartFailsWithoutURL(t *testing.T) {
	c := NewClient(Options{}, nil)
	assert.Error(t, c.Start(context.Background()))
}

func TestStartFailsOnHelloError(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	fb.setFailure(MethodHello, &RemoteError{Code: "auth", Message: "bad wallet key"})

	c := NewClient(Options{URL: fb.url()}, nil)
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth: bad wallet key")
}

func TestClientQueries(t *testing.T) {
	n := testNetwork()
	fb := newFakeBridge(t, n)
	c := startClient(t, fb, nil, Options{})
	ctx := context.Background()

	conv, err := c.GetConversationByID(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "conv-1", conv.ID())

	missing, err := c.GetConversationByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	members, err := conv.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []messaging.Member{{InboxID: "bot-inbox"}, {InboxID: "alice"}}, members)

	inboxID, err := c.ResolveInboxIDByAddress(ctx, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", messaging.IdentifierKindEthereum)
	require.NoError(t, err)
	assert.Equal(t, "alice", inboxID)

	states, err := c.InboxStateFromInboxIDs(ctx, []string{"alice"}, true)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Len(t, states[0].Installations, 2)

	statuses, err := c.KeyPackageStatusesForInstallationIDs(ctx, []string{"inst-1", "inst-2", "inst-3"})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "inst-1", statuses[0].InstallationID)
	require.NotNil(t, statuses[0].Lifetime)
	assert.Equal(t, "expired", statuses[1].ValidationError)

	require.NoError(t, conv.Send(ctx, "hello"))
	assert.Equal(t, []memnet.SentMessage{{ConversationID: "conv-1", Content: "hello"}}, n.Sent())
}

func TestRemoteErrorIsReturned(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	c := startClient(t, fb, nil, Options{})
	fb.setFailure(MethodIdentityResolve, &RemoteError{Message: "resolver offline"})

	_, err := c.ResolveInboxIDByAddress(context.Background(), "0x1", messaging.IdentifierKindEthereum)
	require.Error(t, err)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "resolver offline", remote.Message)
	assert.Contains(t, err.Error(), MethodIdentityResolve)
}

func TestCallTimeout(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	c := startClient(t, fb, nil, Options{})
	fb.setSilent(MethodInboxState)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.InboxStateFromInboxIDs(ctx, []string{"alice"}, true)
	assert.ErrorIs(t, err, messaging.ErrTimeout)
}

func TestCallAfterStop(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	c := startClient(t, fb, nil, Options{})
	require.NoError(t, c.Stop())

	_, err := c.GetConversationByID(context.Background(), "conv-1")
	assert.ErrorIs(t, err, messaging.ErrNotConnected)
}

func TestMessageEventsArePublished(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	mb := bus.NewMessageBus()
	startClient(t, fb, mb, Options{})

	fb.push(t, "reaction", map[string]string{"emoji": "👍"})
	fb.push(t, EventMessage, MessageEvent{
		ID:             "m1",
		SenderInboxID:  "alice",
		ConversationID: "conv-1",
		ContentType:    messaging.ContentTypeText,
		Content:        "/kc",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, bus.InboundMessage{
		ID:             "m1",
		SenderInboxID:  "alice",
		ConversationID: "conv-1",
		ContentType:    messaging.ContentTypeText,
		Content:        "/kc",
	}, msg)
}

func TestCallsAnswerDuringEventBurst(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	mb := bus.NewMessageBusSize(4)
	c := startClient(t, fb, mb, Options{})

	const burst = 20
	for i := 0; i < burst; i++ {
		fb.push(t, EventMessage, MessageEvent{
			ID:             fmt.Sprintf("m%d", i),
			SenderInboxID:  "alice",
			ConversationID: "conv-1",
			ContentType:    messaging.ContentTypeText,
			Content:        "/kc",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conv, err := c.GetConversationByID(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)

	for i := 0; i < burst; i++ {
		msg, ok := mb.ConsumeInbound(ctx)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.ID)
	}
}

func TestDroppedConnectionFailsWaitingCalls(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	c := startClient(t, fb, nil, Options{})
	fb.setSilent(MethodConversationGet)

	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := c.GetConversationByID(ctx, "conv-1")
		errc <- err
	}()

	require.Eventually(t, func() bool {
		c.pendingMu.Lock()
		defer c.pendingMu.Unlock()
		return len(c.pending) == 1
	}, 2*time.Second, 5*time.Millisecond)
	fb.dropConn(t)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, messaging.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("call still waiting after the connection dropped")
	}
}

func TestBearerTokenIsSent(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	startClient(t, fb, nil, Options{
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "s3cret", TokenType: "Bearer"}),
	})

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, "Bearer s3cret", fb.auth)
}

func TestReconnectAfterDrop(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	c := startClient(t, fb, nil, Options{ReconnectInterval: 10 * time.Millisecond})

	fb.dropConn(t)

	require.Eventually(t, func() bool {
		return fb.helloCount() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := c.GetConversationByID(context.Background(), "conv-1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReconnectRetriesFailedHello(t *testing.T) {
	fb := newFakeBridge(t, testNetwork())
	c := startClient(t, fb, nil, Options{ReconnectInterval: 10 * time.Millisecond})
	require.Equal(t, 1, fb.helloCount())

	fb.mu.Lock()
	fb.helloFailures = 1
	fb.mu.Unlock()
	fb.dropConn(t)

	require.Eventually(t, func() bool {
		return fb.helloCount() >= 2
	}, 8*time.Second, 20*time.Millisecond)

	fb.mu.Lock()
	assert.Zero(t, fb.helloFailures)
	fb.mu.Unlock()

	require.Eventually(t, func() bool {
		_, err := c.GetConversationByID(context.Background(), "conv-1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewTokenSource(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, NewTokenSource(ctx, config.BridgeConfig{}))

	ts := NewTokenSource(ctx, config.BridgeConfig{Token: "abc"})
	require.NotNil(t, ts)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"from-cc","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	ts = NewTokenSource(ctx, config.BridgeConfig{
		Token:        "ignored",
		TokenURL:     tokenSrv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	})
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "from-cc", tok.AccessToken)
}
