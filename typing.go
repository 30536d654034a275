package chirp

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	// typingDebounce is how long keystrokes must settle before a typing
	// transition is pushed onto the channel.
	typingDebounce = 400 * time.Millisecond
	// typingIdleTimeout clears the local typing flag when no keystroke
	// arrives within it.
	typingIdleTimeout = 5 * time.Second
	// remoteTypingExpiry force-clears the remote indicator when no further
	// typing event refreshes it, guarding against a dropped stop event.
	remoteTypingExpiry = 5 * time.Second
)

// typingSender is the outbound side of the typing controller, satisfied by
// *RealtimeClient.
type typingSender interface {
	Send(ctx context.Context, toUserID, eventType string, payload any) error
}

// TypingController tracks local and remote typing state for one open
// conversation view. It owns every timer involved (local idle, outbound
// debounce, remote expiry) and each is re-armed, never stacked. Close stops
// them all; a controller must not outlive its conversation view, or a stale
// timer could fire against the wrong conversation's state.
type TypingController struct {
	conversationID string
	peerID         string
	localUserID    string
	sender         typingSender

	// timer windows, fixed except in tests
	debounce time.Duration
	idle     time.Duration
	expiry   time.Duration

	mu           sync.Mutex
	closed       bool
	localTyping  bool
	remoteTyping bool
	announced    bool // the current typing burst was pushed to the channel

	// Each timer carries a generation; a callback whose generation is stale
	// was superseded by a later arm or disarm and must not touch state.
	debounceTimer *time.Timer
	debounceGen   uint64
	idleTimer     *time.Timer
	idleGen       uint64
	remoteTimer   *time.Timer
	remoteGen     uint64
}

// NewTypingController creates the controller for one conversation view.
func NewTypingController(sender typingSender, conversationID, peerID, localUserID string) *TypingController {
	return &TypingController{
		conversationID: conversationID,
		peerID:         peerID,
		localUserID:    localUserID,
		sender:         sender,
		debounce:       typingDebounce,
		idle:           typingIdleTimeout,
		expiry:         remoteTypingExpiry,
	}
}

// ConversationID returns the conversation this controller belongs to.
func (t *TypingController) ConversationID() string {
	return t.conversationID
}

// DraftChanged reports the current draft text after each keystroke. A
// non-empty draft marks the local user as typing and re-arms the idle
// timeout; the outbound typing event fires only once per burst, after the
// debounce settles, so rapid keystrokes never flood the channel.
func (t *TypingController) DraftChanged(draft string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if strings.TrimSpace(draft) == "" {
		t.localTyping = false
		t.announced = false
		t.disarmLocked(t.debounceTimer, &t.debounceGen)
		t.disarmLocked(t.idleTimer, &t.idleGen)
		return
	}

	t.localTyping = true
	t.armLocked(&t.idleTimer, &t.idleGen, t.idle, t.idleExpired)
	t.armLocked(&t.debounceTimer, &t.debounceGen, t.debounce, t.debounceSettled)
}

func (t *TypingController) idleExpired(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.idleGen {
		return
	}
	t.localTyping = false
	t.announced = false
}

// debounceSettled pushes the start-of-typing transition. No stop event is
// sent when the burst ends; the receiver clears by timeout.
func (t *TypingController) debounceSettled(gen uint64) {
	t.mu.Lock()
	if t.closed || gen != t.debounceGen || !t.localTyping || t.announced {
		t.mu.Unlock()
		return
	}
	t.announced = true
	payload := TypingPayload{
		ConversationID: t.conversationID,
		UserID:         t.localUserID,
		IsTyping:       true,
	}
	t.mu.Unlock()

	// Best-effort: dropped when the channel is not ready.
	_ = t.sender.Send(context.Background(), t.peerID, EventTyping, payload)
}

// LocalTyping reports whether the local user is currently typing.
func (t *TypingController) LocalTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localTyping
}

// RemoteTyping reports whether the peer is currently typing.
func (t *TypingController) RemoteTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteTyping
}

// setRemote applies a typing event from the peer. True (re)arms the expiry
// timer; false clears immediately.
func (t *TypingController) setRemote(isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.remoteTyping = isTyping
	if isTyping {
		t.armLocked(&t.remoteTimer, &t.remoteGen, t.expiry, t.remoteExpired)
	} else {
		t.disarmLocked(t.remoteTimer, &t.remoteGen)
	}
}

// clearRemote drops the remote indicator, e.g. when the peer's message
// arrives and supersedes it.
func (t *TypingController) clearRemote() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.remoteTyping = false
	t.disarmLocked(t.remoteTimer, &t.remoteGen)
}

func (t *TypingController) remoteExpired(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.remoteGen {
		return
	}
	t.remoteTyping = false
}

// Close stops all timers and resets both flags. The controller is unusable
// afterwards.
func (t *TypingController) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.localTyping = false
	t.remoteTyping = false
	t.announced = false
	t.disarmLocked(t.debounceTimer, &t.debounceGen)
	t.disarmLocked(t.idleTimer, &t.idleGen)
	t.disarmLocked(t.remoteTimer, &t.remoteGen)
}

// armLocked re-arms a single-purpose timer. Stop cannot cancel a callback
// that has already fired and is blocked on t.mu, so each arm also bumps the
// timer's generation; such a callback finds its generation stale and becomes
// a no-op instead of clearing fresh state. Must be called with t.mu held.
func (t *TypingController) armLocked(timer **time.Timer, gen *uint64, d time.Duration, fn func(uint64)) {
	if *timer != nil {
		(*timer).Stop()
	}
	*gen++
	current := *gen
	*timer = time.AfterFunc(d, func() { fn(current) })
}

// disarmLocked stops a timer and invalidates any callback already in flight.
// Must be called with t.mu held.
func (t *TypingController) disarmLocked(timer *time.Timer, gen *uint64) {
	*gen++
	if timer != nil {
		timer.Stop()
	}
}
