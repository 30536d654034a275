// Package chirp provides the Go client for the Chirp social network API.
//
// Covers auth, users, posts, comments, notifications, search, uploads and
// direct messaging with sub-client access pattern, plus a realtime layer for
// live message and typing events.
//
// Example:
//
//	client := chirp.NewClient("")
//	auth, _ := client.Auth.Login(ctx, "ada@example.com", "secret")
//	client.SetToken(auth.Token)
//
//	feed, _ := client.Posts.Feed(ctx, &chirp.Pagination{Limit: 20})
//	convs, _ := client.Conversations.List(ctx)
//	client.Conversations.SendMessage(ctx, convs[0].ID, "hello!")
package chirp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "http://localhost:8080/api/v1"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client talks to the Chirp REST API. The zero value is not usable; construct
// with NewClient.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client

	Auth          *AuthClient
	Users         *UsersClient
	Posts         *PostsClient
	Comments      *CommentsClient
	Notifications *NotificationsClient
	Search        *SearchClient
	Uploads       *UploadsClient
	Conversations *ConversationsClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Chirp client.
// token is optional; pass "" and call SetToken after login/register.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{c: c}
	c.Users = &UsersClient{c: c}
	c.Posts = &PostsClient{c: c}
	c.Comments = &CommentsClient{c: c}
	c.Notifications = &NotificationsClient{c: c}
	c.Search = &SearchClient{c: c}
	c.Uploads = &UploadsClient{c: c}
	c.Conversations = &ConversationsClient{c: c}
	return c
}

// SetToken sets or updates the bearer token, typically after login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	return c.token
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func decodeList[T any](data []byte) ([]T, error) {
	var result []T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

func paginationQuery(opts *Pagination) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if opts.Offset > 0 {
		q["offset"] = fmt.Sprintf("%d", opts.Offset)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Auth
// ============================================================================

// AuthClient handles registration and login.
type AuthClient struct{ c *Client }

func (a *AuthClient) Register(ctx context.Context, opts *RegisterOptions) (*AuthResponse, error) {
	data, err := a.c.doRequest(ctx, "POST", "/auth/register", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResponse](data)
}

func (a *AuthClient) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	data, err := a.c.doRequest(ctx, "POST", "/auth/login", map[string]string{
		"email": email, "password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResponse](data)
}

// ============================================================================
// Users
// ============================================================================

// UsersClient handles profiles and the follow graph.
type UsersClient struct{ c *Client }

// Me returns the authenticated user.
func (u *UsersClient) Me(ctx context.Context) (*User, error) {
	data, err := u.c.doRequest(ctx, "GET", "/users/me", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

func (u *UsersClient) Get(ctx context.Context, userID string) (*User, error) {
	data, err := u.c.doRequest(ctx, "GET", "/users/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

func (u *UsersClient) GetByUsername(ctx context.Context, username string) (*User, error) {
	data, err := u.c.doRequest(ctx, "GET", "/users/username/"+username, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

func (u *UsersClient) Update(ctx context.Context, userID string, opts *UpdateUserOptions) (*User, error) {
	data, err := u.c.doRequest(ctx, "PUT", "/users/"+userID, opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

func (u *UsersClient) Follow(ctx context.Context, userID string) error {
	_, err := u.c.doRequest(ctx, "POST", "/users/follow/"+userID, nil, nil)
	return err
}

func (u *UsersClient) Unfollow(ctx context.Context, userID string) error {
	_, err := u.c.doRequest(ctx, "DELETE", "/users/follow/"+userID, nil, nil)
	return err
}

func (u *UsersClient) Followers(ctx context.Context, opts *Pagination) ([]User, error) {
	data, err := u.c.doRequest(ctx, "GET", "/users/followers", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeList[User](data)
}

func (u *UsersClient) Following(ctx context.Context, opts *Pagination) ([]User, error) {
	data, err := u.c.doRequest(ctx, "GET", "/users/following", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeList[User](data)
}

// ============================================================================
// Posts
// ============================================================================

// PostsClient handles the post timeline: feed, trending, likes and shares.
type PostsClient struct{ c *Client }

func (p *PostsClient) List(ctx context.Context, opts *Pagination) ([]Post, error) {
	data, err := p.c.doRequest(ctx, "GET", "/posts", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeList[Post](data)
}

func (p *PostsClient) Feed(ctx context.Context, opts *Pagination) ([]Post, error) {
	data, err := p.c.doRequest(ctx, "GET", "/posts/feed", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeList[Post](data)
}

func (p *PostsClient) Trending(ctx context.Context, opts *Pagination) ([]Post, error) {
	data, err := p.c.doRequest(ctx, "GET", "/posts/trending", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeList[Post](data)
}

func (p *PostsClient) Suggested(ctx context.Context, opts *Pagination) ([]Post, error) {
	data, err := p.c.doRequest(ctx, "GET", "/posts/suggested", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeList[Post](data)
}

func (p *PostsClient) Get(ctx context.Context, postID string) (*Post, error) {
	data, err := p.c.doRequest(ctx, "GET", "/posts/"+postID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Post](data)
}

func (p *PostsClient) Create(ctx context.Context, opts *CreatePostOptions) (*Post, error) {
	data, err := p.c.doRequest(ctx, "POST", "/posts", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Post](data)
}

func (p *PostsClient) Update(ctx context.Context, postID string, opts *CreatePostOptions) (*Post, error) {
	data, err := p.c.doRequest(ctx, "PUT", "/posts/"+postID, opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Post](data)
}

func (p *PostsClient) Delete(ctx context.Context, postID string) error {
	_, err := p.c.doRequest(ctx, "DELETE", "/posts/"+postID, nil, nil)
	return err
}

func (p *PostsClient) Like(ctx context.Context, postID string) (*LikeCount, error) {
	data, err := p.c.doRequest(ctx, "POST", "/posts/"+postID+"/like", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[LikeCount](data)
}

func (p *PostsClient) Unlike(ctx context.Context, postID string) (*LikeCount, error) {
	data, err := p.c.doRequest(ctx, "DELETE", "/posts/"+postID+"/like", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[LikeCount](data)
}

// Share reposts an existing post with optional commentary.
func (p *PostsClient) Share(ctx context.Context, postID, content string) (*Post, error) {
	data, err := p.c.doRequest(ctx, "POST", "/posts/"+postID+"/share", map[string]string{
		"content": content,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Post](data)
}

// ============================================================================
// Comments
// ============================================================================

// CommentsClient handles comments, nested under posts.
type CommentsClient struct{ c *Client }

func (cm *CommentsClient) List(ctx context.Context, postID string, opts *Pagination) ([]Comment, error) {
	data, err := cm.c.doRequest(ctx, "GET", "/posts/"+postID+"/comments", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeList[Comment](data)
}

func (cm *CommentsClient) Create(ctx context.Context, postID, content string) (*Comment, error) {
	data, err := cm.c.doRequest(ctx, "POST", "/posts/"+postID+"/comments", map[string]string{
		"content": content,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Comment](data)
}

func (cm *CommentsClient) Update(ctx context.Context, commentID, content string) (*Comment, error) {
	data, err := cm.c.doRequest(ctx, "PUT", "/posts/comments/"+commentID, map[string]string{
		"content": content,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Comment](data)
}

func (cm *CommentsClient) Delete(ctx context.Context, commentID string) error {
	_, err := cm.c.doRequest(ctx, "DELETE", "/posts/comments/"+commentID, nil, nil)
	return err
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationListOptions filters the notification list.
type NotificationListOptions struct {
	Pagination
	IsRead *bool
}

// NotificationsClient handles the notification center.
type NotificationsClient struct{ c *Client }

func (n *NotificationsClient) List(ctx context.Context, opts *NotificationListOptions) ([]Notification, error) {
	var query map[string]string
	if opts != nil {
		query = paginationQuery(&opts.Pagination)
		if opts.IsRead != nil {
			if query == nil {
				query = map[string]string{}
			}
			query["isRead"] = fmt.Sprintf("%t", *opts.IsRead)
		}
	}
	data, err := n.c.doRequest(ctx, "GET", "/notifications", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeList[Notification](data)
}

func (n *NotificationsClient) UnreadCount(ctx context.Context) (*UnreadCount, error) {
	data, err := n.c.doRequest(ctx, "GET", "/notifications/unread-count", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[UnreadCount](data)
}

func (n *NotificationsClient) MarkRead(ctx context.Context, notificationID string) error {
	_, err := n.c.doRequest(ctx, "PUT", "/notifications/"+notificationID+"/read", map[string]any{}, nil)
	return err
}

func (n *NotificationsClient) MarkAllRead(ctx context.Context) error {
	_, err := n.c.doRequest(ctx, "PUT", "/notifications/read-all", map[string]any{}, nil)
	return err
}

// ============================================================================
// Search
// ============================================================================

// SearchClient handles cross-entity search.
type SearchClient struct{ c *Client }

func searchQuery(q string, opts *Pagination) map[string]string {
	query := map[string]string{"q": q}
	for k, v := range paginationQuery(opts) {
		query[k] = v
	}
	return query
}

func (s *SearchClient) All(ctx context.Context, q string, opts *Pagination) (*SearchResults, error) {
	data, err := s.c.doRequest(ctx, "GET", "/search", nil, searchQuery(q, opts))
	if err != nil {
		return nil, err
	}
	return decodeJSON[SearchResults](data)
}

func (s *SearchClient) Users(ctx context.Context, q string, opts *Pagination) ([]User, error) {
	data, err := s.c.doRequest(ctx, "GET", "/search/users", nil, searchQuery(q, opts))
	if err != nil {
		return nil, err
	}
	return decodeList[User](data)
}

func (s *SearchClient) Posts(ctx context.Context, q string, opts *Pagination) ([]Post, error) {
	data, err := s.c.doRequest(ctx, "GET", "/search/posts", nil, searchQuery(q, opts))
	if err != nil {
		return nil, err
	}
	return decodeList[Post](data)
}

// ============================================================================
// Uploads
// ============================================================================

// UploadsClient handles media uploads.
type UploadsClient struct{ c *Client }

// Upload posts the file as a multipart form and returns its public URL.
func (up *UploadsClient) Upload(ctx context.Context, fileName string, data []byte) (*UploadResult, error) {
	if fileName == "" {
		return nil, fmt.Errorf("fileName is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", up.c.baseURL+"/uploads", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if up.c.token != "" {
		req.Header.Set("Authorization", "Bearer "+up.c.token)
	}

	resp, err := up.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("upload failed (%d)", resp.StatusCode)
		}
		return nil, apiErr
	}
	return decodeJSON[UploadResult](body)
}

// ============================================================================
// Conversations & Messages
// ============================================================================

// ConversationsClient handles the direct-message REST surface. The cached,
// realtime-reconciled view over these endpoints lives in Inbox.
type ConversationsClient struct{ c *Client }

func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	data, err := cv.c.doRequest(ctx, "GET", "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Conversation](data)
}

func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	data, err := cv.c.doRequest(ctx, "GET", "/conversations/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// Create requests a conversation with a peer. The server reuses an existing
// conversation if one already exists for the pair.
func (cv *ConversationsClient) Create(ctx context.Context, recipientID string) (*Conversation, error) {
	data, err := cv.c.doRequest(ctx, "POST", "/conversations", map[string]string{
		"recipientId": recipientID,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

func (cv *ConversationsClient) MarkAsRead(ctx context.Context, conversationID string) error {
	_, err := cv.c.doRequest(ctx, "POST", "/conversations/"+conversationID+"/read", nil, nil)
	return err
}

func (cv *ConversationsClient) Messages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	data, err := cv.c.doRequest(ctx, "GET", "/conversations/"+conversationID+"/messages", nil, map[string]string{
		"limit":  fmt.Sprintf("%d", limit),
		"offset": fmt.Sprintf("%d", offset),
	})
	if err != nil {
		return nil, err
	}
	return decodeList[Message](data)
}

// SendMessage posts a message. A client-generated clientId rides along so a
// retried request cannot create a duplicate server-side.
func (cv *ConversationsClient) SendMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	data, err := cv.c.doRequest(ctx, "POST", "/conversations/"+conversationID+"/messages", map[string]string{
		"content":  content,
		"clientId": uuid.NewString(),
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// SendDirect resolves a username, ensures a conversation with that user
// exists, and sends the first message in one call.
func (cv *ConversationsClient) SendDirect(ctx context.Context, username, content string) (*Conversation, error) {
	user, err := cv.c.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user %q not found: %w", username, err)
	}

	conv, err := cv.Create(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if _, err := cv.SendMessage(ctx, conv.ID, content); err != nil {
		return nil, err
	}
	return conv, nil
}
