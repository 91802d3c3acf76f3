package chatsync

import (
	"strings"
	"time"
)

// ============================================================================
// Identity
// ============================================================================

// Role is a user's role in the storefront.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	// RoleUnknown is used when the server omits or garbles the role.
	RoleUnknown Role = ""
)

// User is an immutable snapshot of a chat participant.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      Role   `json:"role,omitempty"`
	IsOnline  bool   `json:"isOnline"`
}

// ============================================================================
// Messages
// ============================================================================

// Message is a single chat message in a one-to-one thread.
type Message struct {
	ID            string    `json:"id"`
	FromUserID    string    `json:"fromUserId"`
	ToUserID      string    `json:"toUserId"`
	Body          string    `json:"body"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	IsRead        bool      `json:"isRead"`
	OrderID       string    `json:"orderId,omitempty"`
	OrderStatus   string    `json:"orderStatus,omitempty"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	Sender        *User     `json:"sender,omitempty"`
	Receiver      *User     `json:"receiver,omitempty"`

	// Pending marks an optimistic copy appended locally after a send,
	// waiting to be superseded by the next thread refresh.
	Pending bool `json:"pending,omitempty"`
}

// HasImage reports whether the message carries an attachment.
func (m Message) HasImage() bool { return m.ImageURL != "" }

// ============================================================================
// Conversations
// ============================================================================

// Conversation is one entry of the contact list.
type Conversation struct {
	ID          string   `json:"id"`
	Peer        User     `json:"peer"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
	OrderID     string   `json:"orderId,omitempty"`
}

// Matches reports whether the conversation matches a search query. The match
// is a case-insensitive substring test over the peer name and the last
// message body.
func (c Conversation) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Peer.Name), q) {
		return true
	}
	return c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Body), q)
}

// Is reports whether id names this conversation, either by its own id or by
// its peer's id.
func (c Conversation) Is(id string) bool {
	return id != "" && (c.ID == id || c.Peer.ID == id)
}

// ============================================================================
// Send input
// ============================================================================

// ImageRef is a locally selected image attachment. Exactly one of Data, Path
// or URL is expected to be set.
type ImageRef struct {
	Data []byte
	Path string
	Name string
	URL  string
	// Hosted marks URL as already served by the media service, in which case
	// no upload happens.
	Hosted bool
}

// IsZero reports whether no image is attached.
func (r *ImageRef) IsZero() bool {
	return r == nil || (len(r.Data) == 0 && r.Path == "" && r.URL == "")
}

// Draft is the compose state of a chat surface.
type Draft struct {
	Body  string
	Image *ImageRef
}

// ============================================================================
// Snapshots
// ============================================================================

// Snapshot is the presentation-facing view of a session.
type Snapshot struct {
	Conversations        []Conversation
	Messages             []Message
	LoadingConversations bool
	LoadingMessages      bool
	LastError            error
	SelectedID           string
	CurrentUserID        string
	IsGuest              bool
	Polling              bool
}
