package chirp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Router fans realtime frames into the inbox cache and the typing controller
// of the currently mounted conversation view. Frames are handled on the
// channel's read loop, one at a time in arrival order, so cache updates from
// the wire never interleave.
type Router struct {
	inbox *Inbox
	log   zerolog.Logger

	mu     sync.Mutex
	typing *TypingController
	ctx    context.Context
}

// NewRouter creates a router over the given inbox.
func NewRouter(inbox *Inbox, logger zerolog.Logger) *Router {
	return &Router{
		inbox: inbox,
		log:   logger.With().Str("component", "router").Logger(),
		ctx:   context.Background(),
	}
}

// Attach registers the router on the realtime channel. ctx bounds any
// follow-up REST calls triggered by incoming frames.
func (r *Router) Attach(ctx context.Context, rt *RealtimeClient) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	rt.OnEvent(r.HandleFrame)
}

// SetTypingController swaps in the controller for the conversation view that
// just mounted. Pass nil on unmount; typing events are then dropped.
func (r *Router) SetTypingController(t *TypingController) {
	r.mu.Lock()
	r.typing = t
	r.mu.Unlock()
}

// HandleFrame dispatches one inbound envelope. Malformed payloads are logged
// and dropped; a bad frame must never take the channel down.
func (r *Router) HandleFrame(env Envelope) {
	switch env.Type {
	case EventMessage:
		r.handleMessage(env.Payload)
	case EventTyping:
		r.handleTyping(env.Payload)
	default:
		r.log.Debug().Str("type", env.Type).Msg("ignoring unknown event type")
	}
}

func (r *Router) handleMessage(payload json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.log.Debug().Err(err).Msg("dropping malformed message payload")
		return
	}
	if msg.ID == "" || msg.ConversationID == "" {
		r.log.Debug().Msg("dropping message payload without id or conversation")
		return
	}

	r.inbox.AppendFromRealtime(msg.ConversationID, msg)

	// An incoming message supersedes the sender's typing indicator.
	r.mu.Lock()
	typing := r.typing
	ctx := r.ctx
	r.mu.Unlock()
	if typing != nil && typing.ConversationID() == msg.ConversationID {
		typing.clearRemote()
	}

	isRead := msg.ConversationID == r.inbox.OpenConversationID()
	if !r.inbox.updateLastMessage(msg.ConversationID, msg, isRead) {
		// First message of a conversation this session; the list entry
		// only exists server-side, so refetch once.
		if _, err := r.inbox.RefreshConversations(ctx); err != nil {
			r.log.Warn().Err(err).Msg("conversation list refresh failed")
		}
	}
}

func (r *Router) handleTyping(payload json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.log.Debug().Err(err).Msg("dropping malformed typing payload")
		return
	}
	if p.ConversationID == "" || p.UserID == "" {
		r.log.Debug().Msg("dropping typing payload without id or conversation")
		return
	}
	if p.UserID == r.inbox.LocalUserID() {
		return
	}

	r.mu.Lock()
	typing := r.typing
	r.mu.Unlock()
	if typing == nil || typing.ConversationID() != p.ConversationID {
		// No view mounted for this conversation; the indicator has
		// nowhere to render.
		return
	}
	typing.setRemote(p.IsTyping)
}
