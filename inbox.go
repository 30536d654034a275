package chirp

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultPageSize is the fixed message page size.
const DefaultPageSize = 50

// ErrEmptyMessage is returned by Send for whitespace-only content. The
// message never reaches the network.
var ErrEmptyMessage = errors.New("message content is empty")

// Inbox is the cached, realtime-reconciled view of one user's direct
// messages: the conversation list, per-conversation message pages and
// unread state. All mutation paths, request-driven and realtime alike,
// converge on its session cache, so every reader observes one consistent view.
type Inbox struct {
	client *Client
	cache  *sessionCache
	log    zerolog.Logger

	localUserID string

	mu     sync.Mutex
	openID string
}

// NewInbox creates the inbox for an authenticated session. localUserID is
// the id of the logged-in user.
func NewInbox(client *Client, localUserID string, logger zerolog.Logger) *Inbox {
	return &Inbox{
		client:      client,
		cache:       newSessionCache(),
		log:         logger,
		localUserID: localUserID,
	}
}

// LocalUserID returns the id of the session's user.
func (in *Inbox) LocalUserID() string {
	return in.localUserID
}

// Open marks a conversation as the actively viewed one. Messages arriving
// for it are marked read immediately; all others flip to unread. Pass ""
// when no conversation view is mounted.
func (in *Inbox) Open(conversationID string) {
	in.mu.Lock()
	in.openID = conversationID
	in.mu.Unlock()
}

// OpenConversationID returns the id of the actively viewed conversation.
func (in *Inbox) OpenConversationID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.openID
}

// Reset wipes all cached state, used on logout.
func (in *Inbox) Reset() {
	in.cache.clear()
	in.Open("")
}

// ============================================================================
// Conversation list
// ============================================================================

// Conversations returns the cached conversation list, fetching it once per
// session. The list is ordered by last activity, most recent first.
func (in *Inbox) Conversations(ctx context.Context) ([]Conversation, error) {
	if v, ok := in.cache.read(conversationsKey()); ok {
		if list, ok := v.([]Conversation); ok {
			return list, nil
		}
	}
	return in.RefreshConversations(ctx)
}

// RefreshConversations forces a full refetch of the conversation list.
// On failure the previously cached list is left untouched.
func (in *Inbox) RefreshConversations(ctx context.Context) ([]Conversation, error) {
	list, err := in.client.Conversations.List(ctx)
	if err != nil {
		return nil, err
	}
	sortConversations(list)
	in.cache.update(conversationsKey(), func(any) any { return list })
	return list, nil
}

// CachedConversations returns the conversation list without fetching.
func (in *Inbox) CachedConversations() ([]Conversation, bool) {
	v, ok := in.cache.read(conversationsKey())
	if !ok {
		return nil, false
	}
	list, ok := v.([]Conversation)
	return list, ok
}

// CreateConversation requests a conversation with a peer and refetches the
// list instead of splicing locally; the server may have returned an existing
// conversation, and a refetch cannot produce duplicates or ordering bugs.
func (in *Inbox) CreateConversation(ctx context.Context, recipientID string) (*Conversation, error) {
	conv, err := in.client.Conversations.Create(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if _, err := in.RefreshConversations(ctx); err != nil {
		// The conversation exists server-side; drop the stale list so the
		// next read refetches.
		in.log.Warn().Err(err).Msg("conversation list refetch failed after create")
		in.cache.invalidate(conversationsKey())
	}
	return conv, nil
}

// hasConversation reports whether the id is present in the cached list.
func (in *Inbox) hasConversation(conversationID string) bool {
	list, ok := in.CachedConversations()
	if !ok {
		return false
	}
	for _, c := range list {
		if c.ID == conversationID {
			return true
		}
	}
	return false
}

// updateLastMessage replaces the conversation's last-message summary and
// re-sorts the list, all in one atomic cache update. Returns false when the
// id is not in the cached list; the caller is responsible for a full refetch
// in that case.
func (in *Inbox) updateLastMessage(conversationID string, msg Message, isRead bool) bool {
	found := false
	in.cache.update(conversationsKey(), func(old any) any {
		list, ok := old.([]Conversation)
		if !ok {
			return nil
		}
		out := make([]Conversation, len(list))
		copy(out, list)
		for i := range out {
			if out[i].ID == conversationID {
				out[i].LastMessage = &LastMessage{
					Content:   msg.Content,
					CreatedAt: msg.CreatedAt,
					IsRead:    isRead,
				}
				found = true
			}
		}
		if !found {
			return nil
		}
		sortConversations(out)
		return out
	})
	return found
}

// markReadLocal flips the conversation's last message to read, leaving
// content and timestamp untouched. Idempotent.
func (in *Inbox) markReadLocal(conversationID string) {
	in.cache.update(conversationsKey(), func(old any) any {
		list, ok := old.([]Conversation)
		if !ok {
			return nil
		}
		out := make([]Conversation, len(list))
		copy(out, list)
		for i := range out {
			if out[i].ID == conversationID && out[i].LastMessage != nil {
				lm := *out[i].LastMessage
				lm.IsRead = true
				out[i].LastMessage = &lm
			}
		}
		return out
	})
}

// sortConversations orders by lastMessage.createdAt descending. A nil last
// message sorts last; its position is otherwise unspecified.
func sortConversations(list []Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].LastMessage, list[j].LastMessage
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

// ============================================================================
// Messages
// ============================================================================

// Messages returns one page of a conversation's messages, fetching and
// caching it on first access. Pages are 1-based and DefaultPageSize long.
func (in *Inbox) Messages(ctx context.Context, conversationID string, page int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	key := messagesKey(conversationID, page)
	if v, ok := in.cache.read(key); ok {
		if msgs, ok := v.([]Message); ok {
			return msgs, nil
		}
	}

	msgs, err := in.client.Conversations.Messages(ctx, conversationID, DefaultPageSize, (page-1)*DefaultPageSize)
	if err != nil {
		return nil, err
	}
	in.cache.update(key, func(any) any { return msgs })
	return msgs, nil
}

// CachedMessages returns a cached message page without fetching.
func (in *Inbox) CachedMessages(conversationID string, page int) ([]Message, bool) {
	v, ok := in.cache.read(messagesKey(conversationID, page))
	if !ok {
		return nil, false
	}
	msgs, ok := v.([]Message)
	return msgs, ok
}

// Send posts a message. The send is pessimistic: the cache is only touched
// after the server confirms, so a failed send leaves all local state and the
// caller's draft intact. Whitespace-only content is rejected before
// any network call.
func (in *Inbox) Send(ctx context.Context, conversationID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	msg, err := in.client.Conversations.SendMessage(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}

	in.appendMessage(conversationID, *msg)
	if !in.updateLastMessage(conversationID, *msg, true) {
		// The cached list does not know this conversation yet; refetch it
		// rather than splicing a summary in locally.
		if _, err := in.RefreshConversations(ctx); err != nil {
			in.log.Warn().Err(err).Msg("conversation list refetch failed after send")
			in.cache.invalidate(conversationsKey())
		}
	}
	return msg, nil
}

// AppendFromRealtime merges a message delivered over the live channel into
// the first page's cache.
func (in *Inbox) AppendFromRealtime(conversationID string, msg Message) {
	in.appendMessage(conversationID, msg)
}

// appendMessage appends to the conversation's first page. The append and the
// duplicate check run inside one atomic cache update: a confirmed send and
// its realtime echo carry the same server-assigned id, so whichever path
// lands second becomes a no-op regardless of arrival order. A page that was
// never fetched is left absent; the next read pulls full history from the
// server, message included.
func (in *Inbox) appendMessage(conversationID string, msg Message) {
	in.cache.update(messagesKey(conversationID, 1), func(old any) any {
		msgs, ok := old.([]Message)
		if !ok {
			return nil
		}
		for _, m := range msgs {
			if m.ID == msg.ID {
				return nil
			}
		}
		out := make([]Message, len(msgs), len(msgs)+1)
		copy(out, msgs)
		return append(out, msg)
	})
}

// MarkAsRead tells the server the conversation has been read, then mirrors
// the flip locally. The local flip only happens after the server confirms.
func (in *Inbox) MarkAsRead(ctx context.Context, conversationID string) error {
	if err := in.client.Conversations.MarkAsRead(ctx, conversationID); err != nil {
		return err
	}
	in.markReadLocal(conversationID)
	return nil
}
