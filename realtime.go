package chirp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// Event types carried by the realtime channel.
const (
	EventMessage = "message"
	EventTyping  = "typing"
)

// Envelope is the inbound wire format for all realtime events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// outboundFrame is the client-to-server wire format.
type outboundFrame struct {
	ToUserID string `json:"toUserId"`
	Type     string `json:"type"`
	Payload  any    `json:"payload"`
}

// TypingPayload is carried by typing events in both directions.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	// Token is the session bearer token. Defaults to the parent client's.
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	Logger               zerolog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single live channel of an authenticated session.
// Inbound frames are delivered to OnEvent handlers synchronously, in arrival
// order; malformed frames are dropped and logged, never surfaced.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig
	log     zerolog.Logger
	recon   *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	rootCtx          context.Context
	cancelFn         context.CancelFunc

	handlerMu      sync.RWMutex
	handlers       []func(Envelope)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// Realtime creates the realtime client for this session. Call Connect to
// establish the channel.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Token == "" {
		cfg.Token = c.token
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL: c.baseURL,
		config:  &cfg,
		log:     cfg.Logger,
		state:   StateDisconnected,
		recon:   newReconnector(&cfg),
	}
}

// OnEvent registers a handler invoked once per inbound frame.
func (rt *RealtimeClient) OnEvent(h func(Envelope)) {
	rt.handlerMu.Lock()
	rt.handlers = append(rt.handlers, h)
	rt.handlerMu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (rt *RealtimeClient) OnConnected(h func()) {
	rt.handlerMu.Lock()
	rt.onConnected = append(rt.onConnected, h)
	rt.handlerMu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(reason string)) {
	rt.handlerMu.Lock()
	rt.onDisconnected = append(rt.onDisconnected, h)
	rt.handlerMu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.handlerMu.Lock()
	rt.onReconnecting = append(rt.onReconnecting, h)
	rt.handlerMu.Unlock()
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Connect establishes the WebSocket channel. The session bearer token rides
// on the URL query, matching the server contract.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	if rt.rootCtx == nil {
		rt.rootCtx = ctx
	}
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + rt.config.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	rt.mu.Lock()
	if rt.cancelFn != nil {
		rt.cancelFn()
	}
	// Every connection's context hangs off the first caller's context, not
	// the previous connection's, so reconnect cycles never grow the chain.
	// A concurrent Disconnect may have cleared rootCtx already.
	root := rt.rootCtx
	if root == nil {
		root = ctx
	}
	connCtx, cancel := context.WithCancel(root)
	rt.conn = conn
	rt.state = StateConnected
	rt.cancelFn = cancel
	rt.mu.Unlock()
	rt.recon.markConnected()

	rt.log.Info().Msg("realtime channel connected")
	rt.emitConnected()

	go rt.readLoop(connCtx, conn)

	return nil
}

// Disconnect gracefully closes the channel. No reconnect is attempted.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	rt.rootCtx = nil
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if conn != nil {
		err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
		rt.emitDisconnected("client disconnect")
		return err
	}
	return nil
}

// Send serializes {toUserId, type, payload} onto the channel. When the
// channel is not ready the frame is silently dropped; typing indicators and
// the like are best-effort by contract.
func (rt *RealtimeClient) Send(ctx context.Context, toUserID, eventType string, payload any) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		rt.log.Debug().Str("type", eventType).Msg("channel not ready, dropping outbound frame")
		return nil
	}

	data, err := json.Marshal(outboundFrame{ToUserID: toUserID, Type: eventType, Payload: payload})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			if !intentional {
				rt.state = StateDisconnected
				rt.conn = nil
			}
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.log.Warn().Err(err).Msg("realtime channel closed")
			rt.emitDisconnected(err.Error())

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				rt.mu.Lock()
				root := rt.rootCtx
				rt.mu.Unlock()
				if root != nil {
					rt.scheduleReconnect(root)
				}
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			rt.log.Debug().Msg("dropping malformed realtime frame")
			continue
		}

		rt.dispatch(env)
	}
}

// dispatch invokes handlers synchronously so frames are observed strictly in
// arrival order.
func (rt *RealtimeClient) dispatch(env Envelope) {
	rt.handlerMu.RLock()
	handlers := rt.handlers
	rt.handlerMu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

func (rt *RealtimeClient) scheduleReconnect(ctx context.Context) {
	delay := rt.recon.nextDelay()
	rt.mu.Lock()
	rt.state = StateReconnecting
	rt.mu.Unlock()

	rt.emitReconnecting(rt.recon.attempt, delay)
	rt.log.Info().Int("attempt", rt.recon.attempt).Dur("delay", delay).Msg("realtime reconnecting")

	select {
	case <-ctx.Done():
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return
	case <-time.After(delay):
	}

	rt.mu.Lock()
	if rt.intentionalClose {
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return
	}
	rt.mu.Unlock()

	if err := rt.Connect(ctx); err != nil {
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect(ctx)
			return
		}
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
	}
}

func (rt *RealtimeClient) emitConnected() {
	rt.handlerMu.RLock()
	handlers := append([]func(){}, rt.onConnected...)
	rt.handlerMu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (rt *RealtimeClient) emitDisconnected(reason string) {
	rt.handlerMu.RLock()
	handlers := append([]func(string){}, rt.onDisconnected...)
	rt.handlerMu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (rt *RealtimeClient) emitReconnecting(attempt int, delay time.Duration) {
	rt.handlerMu.RLock()
	handlers := append([]func(int, time.Duration){}, rt.onReconnecting...)
	rt.handlerMu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}
