package chirp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Test helpers
// ============================================================================

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeConversation(id, username string, lastAt time.Time, isRead bool) Conversation {
	return Conversation{
		ID:        id,
		Recipient: Recipient{ID: "u-" + username, Name: username, Username: username},
		LastMessage: &LastMessage{
			Content:   "last in " + id,
			CreatedAt: lastAt,
			IsRead:    isRead,
		},
	}
}

func makeMessage(id, convID, senderID, content string, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		RecipientID:    "local",
		Content:        content,
		CreatedAt:      at,
	}
}

// newTestInbox wires an inbox to an httptest-backed client.
func newTestInbox(t *testing.T, handler http.Handler) *Inbox {
	t.Helper()
	client := newTestClient(t, handler)
	return NewInbox(client, "local", zerolog.Nop())
}

// conversationsHandler serves a fixed conversation list and counts hits.
type conversationsHandler struct {
	mu            sync.Mutex
	conversations []Conversation
	listCalls     int
}

func (h *conversationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.URL.Path == "/conversations" && r.Method == "GET" {
		h.listCalls++
		writeJSON(w, 200, h.conversations)
		return
	}
	writeJSON(w, 404, map[string]string{"error": "not found"})
}

func (h *conversationsHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listCalls
}

// ============================================================================
// Conversation list
// ============================================================================

func TestConversationOrdering(t *testing.T) {
	t.Run("fetched list sorted by last activity", func(t *testing.T) {
		handler := &conversationsHandler{conversations: []Conversation{
			makeConversation("c-old", "alice", baseTime.Add(-2*time.Hour), true),
			makeConversation("c-new", "bob", baseTime, true),
			makeConversation("c-mid", "carol", baseTime.Add(-1*time.Hour), true),
		}}
		inbox := newTestInbox(t, handler)

		list, err := inbox.Conversations(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"c-new", "c-mid", "c-old"}
		for i, id := range want {
			if list[i].ID != id {
				t.Fatalf("position %d: expected %s, got %s", i, id, list[i].ID)
			}
		}
	})

	t.Run("nil last message sorts last", func(t *testing.T) {
		empty := Conversation{ID: "c-empty", Recipient: Recipient{ID: "u-dan", Username: "dan"}}
		handler := &conversationsHandler{conversations: []Conversation{
			empty,
			makeConversation("c-new", "bob", baseTime, true),
		}}
		inbox := newTestInbox(t, handler)

		list, err := inbox.Conversations(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if list[len(list)-1].ID != "c-empty" {
			t.Fatalf("expected empty conversation last, got %s", list[len(list)-1].ID)
		}
	})

	t.Run("second read served from cache", func(t *testing.T) {
		handler := &conversationsHandler{conversations: []Conversation{
			makeConversation("c1", "alice", baseTime, true),
		}}
		inbox := newTestInbox(t, handler)

		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if handler.calls() != 1 {
			t.Fatalf("expected 1 list fetch, got %d", handler.calls())
		}
	})
}

func TestUpdateLastMessage(t *testing.T) {
	t.Run("new activity moves conversation to the top", func(t *testing.T) {
		handler := &conversationsHandler{conversations: []Conversation{
			makeConversation("c-top", "alice", baseTime, true),
			makeConversation("c-bottom", "bob", baseTime.Add(-1*time.Hour), true),
		}}
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		msg := makeMessage("m1", "c-bottom", "u-bob", "hey", baseTime.Add(time.Minute))
		if !inbox.updateLastMessage("c-bottom", msg, false) {
			t.Fatal("expected conversation to be found")
		}

		list, _ := inbox.CachedConversations()
		if list[0].ID != "c-bottom" {
			t.Fatalf("expected c-bottom first, got %s", list[0].ID)
		}
		if list[0].LastMessage.Content != "hey" {
			t.Fatalf("unexpected last message: %s", list[0].LastMessage.Content)
		}
		if list[0].LastMessage.IsRead {
			t.Fatal("expected unread last message")
		}
	})

	t.Run("unknown conversation reports not found", func(t *testing.T) {
		handler := &conversationsHandler{conversations: []Conversation{
			makeConversation("c1", "alice", baseTime, true),
		}}
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		msg := makeMessage("m1", "c-unknown", "u-x", "hi", baseTime)
		if inbox.updateLastMessage("c-unknown", msg, false) {
			t.Fatal("expected not found")
		}
		// The cached list must be untouched.
		list, _ := inbox.CachedConversations()
		if len(list) != 1 || list[0].ID != "c1" {
			t.Fatalf("cached list changed: %v", list)
		}
	})

	t.Run("does not mutate shared slices", func(t *testing.T) {
		handler := &conversationsHandler{conversations: []Conversation{
			makeConversation("c1", "alice", baseTime, true),
		}}
		inbox := newTestInbox(t, handler)
		before, err := inbox.Conversations(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		msg := makeMessage("m1", "c1", "u-alice", "changed", baseTime.Add(time.Minute))
		inbox.updateLastMessage("c1", msg, false)

		if before[0].LastMessage.Content != "last in c1" {
			t.Fatal("previously returned slice was mutated")
		}
	})
}

func TestMarkReadLocal(t *testing.T) {
	handler := &conversationsHandler{conversations: []Conversation{
		makeConversation("c1", "alice", baseTime, false),
	}}
	inbox := newTestInbox(t, handler)
	if _, err := inbox.Conversations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("flips read flag only", func(t *testing.T) {
		inbox.markReadLocal("c1")
		list, _ := inbox.CachedConversations()
		lm := list[0].LastMessage
		if !lm.IsRead {
			t.Fatal("expected read")
		}
		if lm.Content != "last in c1" || !lm.CreatedAt.Equal(baseTime) {
			t.Fatal("content or timestamp changed")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		inbox.markReadLocal("c1")
		inbox.markReadLocal("c1")
		list, _ := inbox.CachedConversations()
		if !list[0].LastMessage.IsRead {
			t.Fatal("expected read")
		}
	})
}

// ============================================================================
// Messages
// ============================================================================

func TestMessages(t *testing.T) {
	t.Run("pages fetched with fixed size offsets", func(t *testing.T) {
		var gotLimit, gotOffset string
		var fetches int
		inbox := newTestInbox(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fetches++
			gotLimit = r.URL.Query().Get("limit")
			gotOffset = r.URL.Query().Get("offset")
			writeJSON(w, 200, []Message{})
		}))

		if _, err := inbox.Messages(context.Background(), "c1", 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotLimit != "50" || gotOffset != "100" {
			t.Fatalf("expected limit=50 offset=100, got limit=%s offset=%s", gotLimit, gotOffset)
		}

		// Second read of the same page hits the cache.
		if _, err := inbox.Messages(context.Background(), "c1", 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fetches != 1 {
			t.Fatalf("expected 1 fetch, got %d", fetches)
		}
	})

	t.Run("pages cached independently", func(t *testing.T) {
		inbox := newTestInbox(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			offset := r.URL.Query().Get("offset")
			writeJSON(w, 200, []Message{makeMessage("m-"+offset, "c1", "u-x", "page", baseTime)})
		}))

		p1, _ := inbox.Messages(context.Background(), "c1", 1)
		p2, _ := inbox.Messages(context.Background(), "c1", 2)
		if p1[0].ID == p2[0].ID {
			t.Fatal("expected distinct pages")
		}
	})
}

func TestAppendMessage(t *testing.T) {
	seedPage := func(t *testing.T, inbox *Inbox) {
		t.Helper()
		if _, err := inbox.Messages(context.Background(), "c1", 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	emptyPageHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, []Message{})
	})

	t.Run("append preserves order", func(t *testing.T) {
		inbox := newTestInbox(t, emptyPageHandler)
		seedPage(t, inbox)

		inbox.AppendFromRealtime("c1", makeMessage("m1", "c1", "u-bob", "first", baseTime))
		inbox.AppendFromRealtime("c1", makeMessage("m2", "c1", "u-bob", "second", baseTime.Add(time.Second)))

		msgs, _ := inbox.CachedMessages("c1", 1)
		if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
			t.Fatalf("unexpected page: %v", msgs)
		}
	})

	t.Run("duplicate id is a no-op", func(t *testing.T) {
		inbox := newTestInbox(t, emptyPageHandler)
		seedPage(t, inbox)

		msg := makeMessage("m1", "c1", "u-bob", "hello", baseTime)
		inbox.AppendFromRealtime("c1", msg)
		inbox.AppendFromRealtime("c1", msg)

		msgs, _ := inbox.CachedMessages("c1", 1)
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
	})

	t.Run("unfetched page stays absent", func(t *testing.T) {
		inbox := newTestInbox(t, emptyPageHandler)

		inbox.AppendFromRealtime("c1", makeMessage("m1", "c1", "u-bob", "hello", baseTime))

		if _, ok := inbox.CachedMessages("c1", 1); ok {
			t.Fatal("expected no cached page")
		}
	})
}

// ============================================================================
// Send
// ============================================================================

func TestSend(t *testing.T) {
	t.Run("whitespace-only rejected before any request", func(t *testing.T) {
		var requests int
		inbox := newTestInbox(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			writeJSON(w, 200, []Message{})
		}))

		_, err := inbox.Send(context.Background(), "c1", "   \n\t ")
		if !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected ErrEmptyMessage, got %v", err)
		}
		if requests != 0 {
			t.Fatalf("expected no requests, got %d", requests)
		}
	})

	t.Run("confirmed send lands in cache as read", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/conversations" && r.Method == "GET":
				writeJSON(w, 200, []Conversation{makeConversation("c1", "alice", baseTime, true)})
			case r.URL.Path == "/conversations/c1/messages" && r.Method == "GET":
				writeJSON(w, 200, []Message{})
			case r.URL.Path == "/conversations/c1/messages" && r.Method == "POST":
				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				writeJSON(w, 201, makeMessage("m-new", "c1", "local", body["content"], baseTime.Add(time.Minute)))
			default:
				writeJSON(w, 404, map[string]string{"error": "not found"})
			}
		})
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := inbox.Messages(context.Background(), "c1", 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		msg, err := inbox.Send(context.Background(), "c1", "  hello there  ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Content != "hello there" {
			t.Fatalf("expected trimmed content, got %q", msg.Content)
		}

		msgs, _ := inbox.CachedMessages("c1", 1)
		if len(msgs) != 1 || msgs[0].ID != "m-new" {
			t.Fatalf("expected sent message in cache, got %v", msgs)
		}
		list, _ := inbox.CachedConversations()
		if list[0].LastMessage.Content != "hello there" || !list[0].LastMessage.IsRead {
			t.Fatalf("expected own send summarized as read, got %+v", list[0].LastMessage)
		}
	})

	t.Run("send into unknown conversation refetches the list", func(t *testing.T) {
		var mu sync.Mutex
		listCalls := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/conversations" && r.Method == "GET":
				mu.Lock()
				listCalls++
				calls := listCalls
				mu.Unlock()
				list := []Conversation{makeConversation("c1", "alice", baseTime, true)}
				if calls > 1 {
					list = append(list, makeConversation("c2", "bob", baseTime.Add(time.Minute), true))
				}
				writeJSON(w, 200, list)
			case r.URL.Path == "/conversations/c2/messages" && r.Method == "POST":
				writeJSON(w, 201, makeMessage("m-new", "c2", "local", "hi", baseTime.Add(time.Minute)))
			default:
				writeJSON(w, 404, map[string]string{"error": "not found"})
			}
		})
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// The cached list predates c2; the confirmed send cannot splice a
		// summary in and must refetch instead.
		if _, err := inbox.Send(context.Background(), "c2", "hi"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		mu.Lock()
		calls := listCalls
		mu.Unlock()
		if calls != 2 {
			t.Fatalf("expected one refetch after send, got %d list calls", calls)
		}
		list, _ := inbox.CachedConversations()
		if len(list) != 2 || list[0].ID != "c2" {
			t.Fatalf("expected refetched list led by c2, got %v", list)
		}
	})

	t.Run("failed send leaves cache untouched", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "POST" {
				writeJSON(w, 500, map[string]string{"error": "boom"})
				return
			}
			writeJSON(w, 200, []Message{})
		})
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Messages(context.Background(), "c1", 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := inbox.Send(context.Background(), "c1", "hello"); err == nil {
			t.Fatal("expected error")
		}
		msgs, _ := inbox.CachedMessages("c1", 1)
		if len(msgs) != 0 {
			t.Fatalf("expected empty cache, got %v", msgs)
		}
	})

	t.Run("realtime echo of own send deduplicated", func(t *testing.T) {
		sent := makeMessage("m-echo", "c1", "local", "hi", baseTime)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "POST" {
				writeJSON(w, 201, sent)
				return
			}
			writeJSON(w, 200, []Message{})
		})
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Messages(context.Background(), "c1", 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := inbox.Send(context.Background(), "c1", "hi"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// The server echoes the same message over the live channel.
		inbox.AppendFromRealtime("c1", sent)

		msgs, _ := inbox.CachedMessages("c1", 1)
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message after echo, got %d", len(msgs))
		}
	})

	t.Run("echo before confirmation deduplicated", func(t *testing.T) {
		sent := makeMessage("m-race", "c1", "local", "hi", baseTime)
		inbox := newTestInbox(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, []Message{})
		}))
		if _, err := inbox.Messages(context.Background(), "c1", 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// The echo raced ahead of the HTTP confirmation; both paths append
		// the same server-assigned id.
		inbox.AppendFromRealtime("c1", sent)
		inbox.appendMessage("c1", sent)

		msgs, _ := inbox.CachedMessages("c1", 1)
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
	})
}

// ============================================================================
// Session lifecycle
// ============================================================================

func TestInboxReset(t *testing.T) {
	handler := &conversationsHandler{conversations: []Conversation{
		makeConversation("c1", "alice", baseTime, true),
	}}
	inbox := newTestInbox(t, handler)
	if _, err := inbox.Conversations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inbox.Open("c1")

	inbox.Reset()

	if _, ok := inbox.CachedConversations(); ok {
		t.Fatal("expected empty cache after reset")
	}
	if inbox.OpenConversationID() != "" {
		t.Fatal("expected no open conversation after reset")
	}
}

func TestCreateConversation(t *testing.T) {
	t.Run("refetches the list after create", func(t *testing.T) {
		var listCalls int
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/conversations" && r.Method == "POST":
				writeJSON(w, 201, makeConversation("c-new", "bob", baseTime, true))
			case r.URL.Path == "/conversations" && r.Method == "GET":
				listCalls++
				writeJSON(w, 200, []Conversation{makeConversation("c-new", "bob", baseTime, true)})
			default:
				writeJSON(w, 404, map[string]string{"error": "not found"})
			}
		})
		inbox := newTestInbox(t, handler)

		conv, err := inbox.CreateConversation(context.Background(), "u-bob")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if conv.ID != "c-new" {
			t.Fatalf("unexpected conversation: %s", conv.ID)
		}
		if listCalls != 1 {
			t.Fatalf("expected 1 list refetch, got %d", listCalls)
		}
		if !inbox.hasConversation("c-new") {
			t.Fatal("expected conversation in cache")
		}
	})

	t.Run("failed refetch drops the stale list", func(t *testing.T) {
		var created bool
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/conversations" && r.Method == "POST":
				created = true
				writeJSON(w, 201, makeConversation("c-new", "bob", baseTime, true))
			case r.URL.Path == "/conversations" && r.Method == "GET":
				if created {
					writeJSON(w, 500, map[string]string{"error": "boom"})
					return
				}
				writeJSON(w, 200, []Conversation{})
			default:
				writeJSON(w, 404, map[string]string{"error": "not found"})
			}
		})
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		conv, err := inbox.CreateConversation(context.Background(), "u-bob")
		if err != nil {
			t.Fatalf("create itself should succeed: %v", err)
		}
		if conv.ID != "c-new" {
			t.Fatalf("unexpected conversation: %s", conv.ID)
		}
		if _, ok := inbox.CachedConversations(); ok {
			t.Fatal("expected stale list invalidated")
		}
	})
}

func TestMarkAsRead(t *testing.T) {
	t.Run("server confirmation required", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/conversations" && r.Method == "GET":
				writeJSON(w, 200, []Conversation{makeConversation("c1", "alice", baseTime, false)})
			case r.URL.Path == "/conversations/c1/read":
				writeJSON(w, 500, map[string]string{"error": "boom"})
			default:
				writeJSON(w, 404, map[string]string{"error": "not found"})
			}
		})
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := inbox.MarkAsRead(context.Background(), "c1"); err == nil {
			t.Fatal("expected error")
		}
		list, _ := inbox.CachedConversations()
		if list[0].LastMessage.IsRead {
			t.Fatal("expected still unread after failed request")
		}
	})

	t.Run("flips locally after confirmation", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/conversations" && r.Method == "GET":
				writeJSON(w, 200, []Conversation{makeConversation("c1", "alice", baseTime, false)})
			case r.URL.Path == "/conversations/c1/read":
				w.WriteHeader(204)
			default:
				writeJSON(w, 404, map[string]string{"error": "not found"})
			}
		})
		inbox := newTestInbox(t, handler)
		if _, err := inbox.Conversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := inbox.MarkAsRead(context.Background(), "c1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		list, _ := inbox.CachedConversations()
		if !list[0].LastMessage.IsRead {
			t.Fatal("expected read after confirmation")
		}
	})
}
