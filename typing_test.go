package chirp

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test helpers
// ============================================================================

// sendRecorder captures outbound frames in place of a live channel.
type sendRecorder struct {
	mu     sync.Mutex
	frames []outboundFrame
}

func (s *sendRecorder) Send(ctx context.Context, toUserID, eventType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, outboundFrame{ToUserID: toUserID, Type: eventType, Payload: payload})
	return nil
}

func (s *sendRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *sendRecorder) last() (outboundFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return outboundFrame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// newTestTyping creates a controller with timers shortened to test scale.
func newTestTyping(sender typingSender) *TypingController {
	tc := NewTypingController(sender, "c1", "u-peer", "local")
	tc.debounce = 20 * time.Millisecond
	tc.idle = 100 * time.Millisecond
	tc.expiry = 100 * time.Millisecond
	return tc
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// ============================================================================
// Local typing
// ============================================================================

func TestTypingLocal(t *testing.T) {
	t.Run("draft marks typing immediately", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		tc.DraftChanged("h")
		if !tc.LocalTyping() {
			t.Fatal("expected local typing")
		}
	})

	t.Run("whitespace draft does not mark typing", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		tc.DraftChanged("   ")
		if tc.LocalTyping() {
			t.Fatal("expected not typing for whitespace draft")
		}
	})

	t.Run("cleared draft stops typing", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		tc.DraftChanged("hello")
		tc.DraftChanged("")
		if tc.LocalTyping() {
			t.Fatal("expected typing cleared")
		}
	})

	t.Run("idle timeout clears typing", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		tc.DraftChanged("hello")
		if !waitFor(t, 500*time.Millisecond, func() bool { return !tc.LocalTyping() }) {
			t.Fatal("expected typing cleared after idle timeout")
		}
	})

	t.Run("keystrokes re-arm the idle timeout", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		// Keep typing past the idle window; each keystroke resets it.
		for i := 0; i < 5; i++ {
			tc.DraftChanged("draft")
			time.Sleep(40 * time.Millisecond)
			if !tc.LocalTyping() {
				t.Fatal("typing expired while keystrokes kept arriving")
			}
		}
	})
}

// ============================================================================
// Outbound debounce
// ============================================================================

func TestTypingDebounce(t *testing.T) {
	t.Run("rapid keystrokes produce one frame", func(t *testing.T) {
		rec := &sendRecorder{}
		tc := newTestTyping(rec)
		defer tc.Close()

		for i := 0; i < 10; i++ {
			tc.DraftChanged("draft")
			time.Sleep(2 * time.Millisecond)
		}

		if !waitFor(t, 500*time.Millisecond, func() bool { return rec.count() == 1 }) {
			t.Fatalf("expected exactly 1 frame, got %d", rec.count())
		}
		// Keep waiting; no further frames may trickle out of this burst.
		time.Sleep(60 * time.Millisecond)
		if rec.count() != 1 {
			t.Fatalf("expected 1 frame after settle, got %d", rec.count())
		}
	})

	t.Run("frame carries conversation and sender", func(t *testing.T) {
		rec := &sendRecorder{}
		tc := newTestTyping(rec)
		defer tc.Close()

		tc.DraftChanged("draft")
		if !waitFor(t, 500*time.Millisecond, func() bool { return rec.count() == 1 }) {
			t.Fatal("expected a frame")
		}

		frame, _ := rec.last()
		if frame.ToUserID != "u-peer" || frame.Type != EventTyping {
			t.Fatalf("unexpected frame: %+v", frame)
		}
		p := frame.Payload.(TypingPayload)
		if p.ConversationID != "c1" || p.UserID != "local" || !p.IsTyping {
			t.Fatalf("unexpected payload: %+v", p)
		}
	})

	t.Run("new burst after idle sends again", func(t *testing.T) {
		rec := &sendRecorder{}
		tc := newTestTyping(rec)
		defer tc.Close()

		tc.DraftChanged("first burst")
		if !waitFor(t, 500*time.Millisecond, func() bool { return rec.count() == 1 }) {
			t.Fatal("expected first frame")
		}
		// Let the idle timeout expire, then start a second burst.
		if !waitFor(t, 500*time.Millisecond, func() bool { return !tc.LocalTyping() }) {
			t.Fatal("expected idle expiry")
		}

		tc.DraftChanged("second burst")
		if !waitFor(t, 500*time.Millisecond, func() bool { return rec.count() == 2 }) {
			t.Fatalf("expected second frame, got %d", rec.count())
		}
	})

	t.Run("cleared draft before settle sends nothing", func(t *testing.T) {
		rec := &sendRecorder{}
		tc := newTestTyping(rec)
		defer tc.Close()

		tc.DraftChanged("about to delete")
		tc.DraftChanged("")

		time.Sleep(80 * time.Millisecond)
		if rec.count() != 0 {
			t.Fatalf("expected no frames, got %d", rec.count())
		}
	})
}

// ============================================================================
// Remote typing
// ============================================================================

func TestTypingRemote(t *testing.T) {
	t.Run("set and clear", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		tc.setRemote(true)
		if !tc.RemoteTyping() {
			t.Fatal("expected remote typing")
		}
		tc.setRemote(false)
		if tc.RemoteTyping() {
			t.Fatal("expected cleared")
		}
	})

	t.Run("expires without refresh", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		tc.setRemote(true)
		if !waitFor(t, 500*time.Millisecond, func() bool { return !tc.RemoteTyping() }) {
			t.Fatal("expected expiry")
		}
	})

	t.Run("refresh re-arms the expiry", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		for i := 0; i < 5; i++ {
			tc.setRemote(true)
			time.Sleep(40 * time.Millisecond)
			if !tc.RemoteTyping() {
				t.Fatal("expired while refreshes kept arriving")
			}
		}
	})

	t.Run("clearRemote cancels the timer", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()

		tc.setRemote(true)
		tc.clearRemote()
		if tc.RemoteTyping() {
			t.Fatal("expected cleared")
		}
	})
}

// ============================================================================
// Stale timer callbacks
// ============================================================================

// A clear callback can fire and block on the mutex while a fresh typing
// event re-arms its timer inside the critical section. The blocked callback
// runs after the re-arm and must not clear the fresh state.
func TestTypingStaleTimerCallbacks(t *testing.T) {
	t.Run("idle clear superseded by a keystroke", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()
		tc.idle = 5 * time.Millisecond

		tc.DraftChanged("h")

		// Hold the lock past the idle window so the expiry callback fires
		// and blocks, then re-arm the way DraftChanged does before
		// releasing it.
		tc.mu.Lock()
		time.Sleep(20 * time.Millisecond)
		tc.localTyping = true
		tc.announced = true
		tc.armLocked(&tc.idleTimer, &tc.idleGen, time.Hour, tc.idleExpired)
		tc.mu.Unlock()

		time.Sleep(20 * time.Millisecond)
		if !tc.LocalTyping() {
			t.Fatal("stale idle callback cleared typing despite a fresh re-arm")
		}
		tc.mu.Lock()
		announced := tc.announced
		tc.mu.Unlock()
		if !announced {
			t.Fatal("stale idle callback reset the announced burst")
		}
	})

	t.Run("remote expiry superseded by a typing event", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		defer tc.Close()
		tc.expiry = 5 * time.Millisecond

		tc.setRemote(true)

		tc.mu.Lock()
		time.Sleep(20 * time.Millisecond)
		tc.remoteTyping = true
		tc.armLocked(&tc.remoteTimer, &tc.remoteGen, time.Hour, tc.remoteExpired)
		tc.mu.Unlock()

		time.Sleep(20 * time.Millisecond)
		if !tc.RemoteTyping() {
			t.Fatal("stale expiry callback cleared the remote indicator despite a refresh")
		}
	})
}

// ============================================================================
// Close
// ============================================================================

func TestTypingClose(t *testing.T) {
	t.Run("resets all state", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		tc.DraftChanged("draft")
		tc.setRemote(true)

		tc.Close()

		if tc.LocalTyping() || tc.RemoteTyping() {
			t.Fatal("expected all state cleared")
		}
	})

	t.Run("no frame after close", func(t *testing.T) {
		rec := &sendRecorder{}
		tc := newTestTyping(rec)

		tc.DraftChanged("draft")
		tc.Close()

		time.Sleep(80 * time.Millisecond)
		if rec.count() != 0 {
			t.Fatalf("expected no frames after close, got %d", rec.count())
		}
	})

	t.Run("calls after close are no-ops", func(t *testing.T) {
		tc := newTestTyping(&sendRecorder{})
		tc.Close()

		tc.DraftChanged("draft")
		tc.setRemote(true)
		if tc.LocalTyping() || tc.RemoteTyping() {
			t.Fatal("expected closed controller to stay inert")
		}
	})
}
