package lmstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned when a namespace connection is used
	// before it is established or after it is lost.
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout is returned when the server does not answer in time.
	ErrTimeout = errors.New("timed out")
	// ErrModelNotFound is returned when a model is neither downloaded nor
	// loaded.
	ErrModelNotFound = errors.New("model not found")
)

// RemoteError is an error reported by LM Studio for an RPC call or channel.
type RemoteError struct {
	Title     string `json:"title"`
	RootTitle string `json:"rootTitle"`
	Message   string `json:"message"`
}

func (e *RemoteError) Error() string {
	switch {
	case e.Title != "":
		return e.Title
	case e.RootTitle != "":
		return e.RootTitle
	case e.Message != "":
		return e.Message
	default:
		return "Unknown RPC error"
	}
}

// wireMessage is the envelope of every message on a namespace socket.
type wireMessage struct {
	Type      string          `json:"type"`
	CallID    *int            `json:"callId,omitempty"`
	ChannelID *int            `json:"channelId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *RemoteError    `json:"error,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Content   *struct {
		Error *RemoteError `json:"error"`
	} `json:"content,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// remoteError extracts the error of an rpcError or channelError message.
// Older servers nest it under content.
func (m wireMessage) remoteError() *RemoteError {
	if m.Error != nil {
		return m.Error
	}
	if m.Content != nil && m.Content.Error != nil {
		return m.Content.Error
	}
	return &RemoteError{}
}

// namespaceConnection represents a connection to a specific LM Studio namespace
type namespaceConnection struct {
	logger         Logger
	namespace      string
	conn           *websocket.Conn
	nextID         int
	nextChannelID  int
	pendingCalls   map[int]chan wireMessage
	activeChannels map[int]*channel
	connected      bool
	mu             sync.Mutex
	writeMu        sync.Mutex
}

func newNamespaceConnection(namespace string, logger Logger) *namespaceConnection {
	return &namespaceConnection{
		logger:         logger,
		namespace:      namespace,
		nextID:         1,
		nextChannelID:  1,
		pendingCalls:   make(map[int]chan wireMessage),
		activeChannels: make(map[int]*channel),
	}
}

// websocketURL maps an API host ("host:port", "http://host:port" or
// "https://host:port") to the websocket URL of a namespace.
func websocketURL(apiHost, namespace string) url.URL {
	switch {
	case strings.HasPrefix(apiHost, "https://"):
		return url.URL{Scheme: "wss", Host: strings.TrimPrefix(apiHost, "https://"), Path: "/" + namespace}
	case strings.HasPrefix(apiHost, "http://"):
		return url.URL{Scheme: "ws", Host: strings.TrimPrefix(apiHost, "http://"), Path: "/" + namespace}
	default:
		return url.URL{Scheme: "ws", Host: apiHost, Path: "/" + namespace}
	}
}

// connect establishes a connection to a specific LM Studio namespace.
// parentCtx bounds the lifetime of the reader goroutine.
func (nc *namespaceConnection) connect(apiHost string, parentCtx context.Context) error {
	u := websocketURL(apiHost, nc.namespace)

	var conn *websocket.Conn
	var err error

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	for retry := 0; retry < MaxConnectionRetries; retry++ {
		if retry > 0 {
			nc.logger.Info("Connection attempt %d/%d after waiting %d seconds...",
				retry+1, MaxConnectionRetries, ConnectionRetryDelaySec)
			select {
			case <-time.After(ConnectionRetryDelaySec * time.Second):
			case <-parentCtx.Done():
				return parentCtx.Err()
			}
		}

		nc.logger.Debug("Connecting to %s", u.String())
		conn, _, err = dialer.DialContext(parentCtx, u.String(), nil)
		if err == nil {
			break
		}
		nc.logger.Error("Connection attempt failed: %v", err)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to LM Studio after %d attempts: %w",
			MaxConnectionRetries, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(15 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	authMsg := map[string]interface{}{
		"authVersion":      LMStudioAPIVersion,
		"clientIdentifier": uuid.New().String(),
		"clientPasskey":    uuid.New().String(),
	}

	nc.logger.Debug("Sending authentication message to %s", nc.namespace)
	if err := conn.WriteJSON(authMsg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send authentication message: %w", err)
	}

	var authResponse struct {
		Success bool        `json:"success"`
		Error   interface{} `json:"error"`
	}
	if err := conn.ReadJSON(&authResponse); err != nil {
		conn.Close()
		return fmt.Errorf("authentication failed: %w", err)
	}
	nc.logger.Debug("Received authentication response from %s: %+v", nc.namespace, authResponse)

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to reset read deadline: %w", err)
	}

	if !authResponse.Success {
		conn.Close()
		errorMsg := "unknown error"
		if authResponse.Error != nil {
			errorMsg = fmt.Sprintf("%v", authResponse.Error)
		}
		return fmt.Errorf("authentication failed: %s", errorMsg)
	}

	nc.mu.Lock()
	nc.conn = conn
	nc.connected = true
	nc.mu.Unlock()

	go nc.handleMessages(parentCtx)

	nc.logger.Debug("Successfully connected and authenticated to %s namespace", nc.namespace)
	return nil
}

// isConnected returns whether the namespace connection is connected
func (nc *namespaceConnection) isConnected() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.connected
}

// close closes the namespace connection
func (nc *namespaceConnection) close() error {
	nc.mu.Lock()
	if !nc.connected || nc.conn == nil {
		nc.mu.Unlock()
		return nil
	}
	nc.connected = false
	conn := nc.conn
	nc.mu.Unlock()

	nc.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(1 * time.Second))
	// Ignore error if connection is already broken
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	nc.writeMu.Unlock()

	// Give time for the close message to be sent and processed
	time.Sleep(250 * time.Millisecond)

	nc.failPending()
	return conn.Close()
}

// markDisconnected records a lost connection and releases every waiter.
func (nc *namespaceConnection) markDisconnected() {
	nc.mu.Lock()
	nc.connected = false
	nc.mu.Unlock()
	nc.failPending()
}

// failPending wakes every pending call and open channel after the socket
// is gone.
func (nc *namespaceConnection) failPending() {
	nc.mu.Lock()
	calls := nc.pendingCalls
	channels := nc.activeChannels
	nc.pendingCalls = make(map[int]chan wireMessage)
	nc.activeChannels = make(map[int]*channel)
	nc.mu.Unlock()

	for _, ch := range calls {
		close(ch)
	}
	for _, ch := range channels {
		ch.abort(fmt.Errorf("%s namespace: %w", nc.namespace, ErrNotConnected))
	}
}

// writeJSON serializes writers; gorilla connections allow one concurrent writer.
func (nc *namespaceConnection) writeJSON(v interface{}) error {
	nc.mu.Lock()
	conn := nc.conn
	connected := nc.connected
	nc.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("%s namespace: %w", nc.namespace, ErrNotConnected)
	}

	nc.writeMu.Lock()
	defer nc.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// handleMessages handles incoming WebSocket messages for a namespace
func (nc *namespaceConnection) handleMessages(ctx context.Context) {
	for {
		_, message, err := nc.conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				// Shutting down, exit without logging the error
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure,
					websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
					!strings.Contains(err.Error(), "use of closed network connection") &&
					!strings.Contains(err.Error(), "websocket: close sent") {
					nc.logger.Error("Error reading message from %s: %v", nc.namespace, err)
				}
			}
			nc.markDisconnected()
			return
		}

		nc.logger.Trace("Received raw WebSocket message from %s: %s", nc.namespace, string(message))

		var msg wireMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			nc.logger.Error("Error parsing message from %s: %v", nc.namespace, err)
			continue
		}
		if msg.Type == "" {
			nc.logger.Error("Message has no type field from %s", nc.namespace)
			continue
		}

		switch {
		case msg.Type == "communicationWarning":
			nc.logger.Warn("WARNING: Communication issue from %s: %s", nc.namespace, msg.Warning)

		case msg.Type == "rpcResult" || msg.Type == "rpcError":
			nc.deliverResult(msg, message)

		case strings.HasPrefix(msg.Type, "channel"):
			if msg.ChannelID == nil {
				nc.logger.Error("Channel message missing channelId from %s: %s", nc.namespace, msg.Type)
				continue
			}
			nc.mu.Lock()
			ch, exists := nc.activeChannels[*msg.ChannelID]
			nc.mu.Unlock()
			if !exists {
				nc.logger.Debug("Received message for unknown channel %d from %s", *msg.ChannelID, nc.namespace)
				continue
			}
			nc.logger.Trace("Routing %s message to channel %d", msg.Type, ch.id)
			select {
			case ch.messageCh <- msg:
			case <-ch.doneCh:
			case <-ctx.Done():
				nc.markDisconnected()
				return
			}

		default:
			var prettyJSON bytes.Buffer
			if err := json.Indent(&prettyJSON, message, "", "  "); err == nil {
				nc.logger.Trace("Received other message from %s: \n%s", nc.namespace, prettyJSON.String())
			}
		}
	}
}

func (nc *namespaceConnection) deliverResult(msg wireMessage, raw []byte) {
	if msg.CallID == nil {
		nc.logger.Error("RPC message without callId from %s", nc.namespace)
		return
	}
	nc.mu.Lock()
	ch, exists := nc.pendingCalls[*msg.CallID]
	delete(nc.pendingCalls, *msg.CallID)
	nc.mu.Unlock()

	if !exists {
		nc.logger.Error("Received response for unknown call ID %d from %s", *msg.CallID, nc.namespace)
		return
	}
	if msg.Type == "rpcError" {
		nc.logger.Error("RPC error from %s: %v", nc.namespace, msg.remoteError())
		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, raw, "", "  "); err == nil {
			nc.logger.Trace("RPC error details from %s: \n%s", nc.namespace, prettyJSON.String())
		}
	}
	ch <- msg
}

// ensureConnected ensures the namespace connection is connected or returns an error
func (nc *namespaceConnection) ensureConnected() error {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if !nc.connected || nc.conn == nil {
		return fmt.Errorf("%s namespace: %w", nc.namespace, ErrNotConnected)
	}
	return nil
}

// RemoteCall makes a remote procedure call to a specific namespace. If ctx
// has no deadline the call is bounded by LMStudioWsAPITimeoutSec.
func (nc *namespaceConnection) RemoteCall(ctx context.Context, endpoint string, params interface{}) (json.RawMessage, error) {
	if err := nc.ensureConnected(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, LMStudioWsAPITimeoutSec*time.Second)
		defer cancel()
	}

	nc.mu.Lock()
	id := nc.nextID
	nc.nextID++
	ch := make(chan wireMessage, 1)
	nc.pendingCalls[id] = ch
	nc.mu.Unlock()

	rpcMsg := map[string]interface{}{
		"type":     "rpcCall",
		"endpoint": endpoint,
		"callId":   id,
	}
	if params != nil {
		rpcMsg["parameter"] = params
	}

	if nc.logger != nil {
		rpcMsgBytes, _ := json.Marshal(rpcMsg)
		nc.logger.Debug("Sending RPC call to %s: %s", nc.namespace, string(rpcMsgBytes))
	}

	if err := nc.writeJSON(rpcMsg); err != nil {
		nc.forgetCall(id)
		return nil, fmt.Errorf("failed to send RPC message: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s %s: %w", nc.namespace, endpoint, ErrNotConnected)
		}
		if resp.Type == "rpcError" {
			return nil, resp.remoteError()
		}
		if len(resp.Result) == 0 {
			// Empty result is valid for some operations
			return json.RawMessage("null"), nil
		}
		nc.logger.Debug("Received RPC response from %s: %s", nc.namespace, string(resp.Result))
		return resp.Result, nil

	case <-ctx.Done():
		nc.forgetCall(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("RPC call %s: %w", endpoint, ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

func (nc *namespaceConnection) forgetCall(id int) {
	nc.mu.Lock()
	delete(nc.pendingCalls, id)
	nc.mu.Unlock()
}

// channel is the client end of a server channel: a long-lived exchange
// opened with channelCreate and ended by channelClose or channelError.
type channel struct {
	id        int
	endpoint  string
	conn      *namespaceConnection
	messageCh chan wireMessage
	doneCh    chan struct{}
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

// openChannel registers a channel and sends its channelCreate message.
func (nc *namespaceConnection) openChannel(endpoint string, creationParameter interface{}) (*channel, error) {
	if err := nc.ensureConnected(); err != nil {
		return nil, err
	}

	nc.mu.Lock()
	ch := &channel{
		id:        nc.nextChannelID,
		endpoint:  endpoint,
		conn:      nc,
		messageCh: make(chan wireMessage, 16),
		doneCh:    make(chan struct{}),
	}
	nc.nextChannelID++
	nc.activeChannels[ch.id] = ch
	nc.mu.Unlock()

	createMsg := map[string]interface{}{
		"type":              "channelCreate",
		"channelId":         ch.id,
		"endpoint":          endpoint,
		"creationParameter": creationParameter,
	}

	nc.logger.Debug("Creating %s channel %d on %s", endpoint, ch.id, nc.namespace)
	if err := nc.writeJSON(createMsg); err != nil {
		ch.finish()
		return nil, fmt.Errorf("failed to create %s channel: %w", endpoint, err)
	}
	return ch, nil
}

// send writes a channelSend message to the server side of the channel.
func (ch *channel) send(message interface{}) error {
	return ch.conn.writeJSON(map[string]interface{}{
		"type":      "channelSend",
		"channelId": ch.id,
		"message":   message,
	})
}

// finish unregisters the channel and releases anyone waiting on it.
func (ch *channel) finish() {
	ch.closeOnce.Do(func() {
		ch.conn.mu.Lock()
		delete(ch.conn.activeChannels, ch.id)
		ch.conn.mu.Unlock()
		close(ch.doneCh)
	})
}

// abort ends the channel with an error.
func (ch *channel) abort(err error) {
	ch.errMu.Lock()
	if ch.err == nil {
		ch.err = err
	}
	ch.errMu.Unlock()
	ch.finish()
}

func (ch *channel) failure() error {
	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	return ch.err
}
