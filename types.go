package chirp

import "time"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error reported by the Chirp backend.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Pagination holds common limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// ============================================================================
// Users & Auth
// ============================================================================

// User is a Chirp account as returned by the users endpoints.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	Avatar     *string   `json:"avatar,omitempty"`
	Location   string    `json:"location,omitempty"`
	Website    string    `json:"website,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Followers  int       `json:"followers,omitempty"`
	Following  int       `json:"following,omitempty"`
	IsFollowed *bool     `json:"isFollowed,omitempty"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// RegisterOptions holds the fields required to create an account.
type RegisterOptions struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateUserOptions holds the profile fields a user may change.
// Nil fields are left untouched.
type UpdateUserOptions struct {
	Name     *string `json:"name,omitempty"`
	Bio      *string `json:"bio,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Location *string `json:"location,omitempty"`
	Website  *string `json:"website,omitempty"`
}

// ============================================================================
// Posts & Comments
// ============================================================================

// Post is a timeline post.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Author    *User     `json:"author,omitempty"`
	Content   string    `json:"content"`
	Image     *string   `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Likes     int       `json:"likes"`
	Comments  int       `json:"comments"`
	IsLiked   *bool     `json:"is_liked,omitempty"`
}

// CreatePostOptions holds the fields for a new post.
type CreatePostOptions struct {
	Content string  `json:"content"`
	Image   *string `json:"image,omitempty"`
}

// Comment is a comment on a post.
type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Author    *User     `json:"author,omitempty"`
	PostID    string    `json:"post_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LikeCount is returned by the like/unlike endpoints.
type LikeCount struct {
	Likes int `json:"likes"`
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationFollow      NotificationType = "follow"
	NotificationLike        NotificationType = "like"
	NotificationComment     NotificationType = "comment"
	NotificationShare       NotificationType = "share"
	NotificationMessage     NotificationType = "message"
	NotificationSystemAlert NotificationType = "system_alert"
)

// Notification is a single entry in the notification center.
type Notification struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	SenderID        *string          `json:"senderId,omitempty"`
	Type            NotificationType `json:"type"`
	Message         string           `json:"message"`
	RelatedEntityID *string          `json:"relatedEntityId,omitempty"`
	EntityType      *string          `json:"entityType,omitempty"`
	IsRead          bool             `json:"isRead"`
	CreatedAt       time.Time        `json:"created_at"`
}

// UnreadCount is returned by the unread-count endpoint.
type UnreadCount struct {
	Count int `json:"count"`
}

// ============================================================================
// Search & Uploads
// ============================================================================

// SearchResults is the combined result of a cross-entity search.
type SearchResults struct {
	Users []User `json:"users"`
	Posts []Post `json:"posts"`
}

// UploadResult is returned after a successful file upload.
type UploadResult struct {
	URL string `json:"url"`
}

// ============================================================================
// Messaging
// ============================================================================

// Recipient is the other participant of a peer-to-peer conversation.
type Recipient struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar"`
}

// LastMessage summarizes the most recent message of a conversation.
type LastMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
}

// Conversation is one entry of the user's conversation list. LastMessage is
// nil only for a conversation that has never carried a message.
type Conversation struct {
	ID          string       `json:"id"`
	Recipient   Recipient    `json:"recipient"`
	LastMessage *LastMessage `json:"lastMessage"`
}

// Message is a single chat message. ConversationID is populated on realtime
// frames and may be empty on REST responses whose URL already names the
// conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	SenderID       string    `json:"senderId"`
	RecipientID    string    `json:"recipientId"`
}
