package chatsync

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is a loosely typed server record as decoded from JSON.
type Record = map[string]any

const defaultUserName = "User"

// ============================================================================
// Users
// ============================================================================

// NormalizeUser converts a raw user record. ok is false when the record has no
// usable id.
func NormalizeUser(r Record) (User, bool) {
	if r == nil {
		return User{}, false
	}
	id := idOf(r, "id", "_id", "userId")
	if id == "" {
		return User{}, false
	}
	name := strOr(r, "name", "")
	if name == "" {
		name = strOr(r, "displayName", "")
	}
	if name == "" {
		name = strOr(r, "username", defaultUserName)
	}
	return User{
		ID:        id,
		Name:      name,
		Email:     strOr(r, "email", ""),
		AvatarURL: firstStr(r, "avatarUrl", "avatar", "profileImage"),
		Role:      roleOf(r["role"]),
		IsOnline:  boolIs(r["isOnline"]) || boolIs(r["online"]),
	}, true
}

// NormalizeUsers converts a list of raw users, dropping malformed entries and
// duplicate ids.
func NormalizeUsers(raw []Record) (users []User, dropped int) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		u, ok := NormalizeUser(r)
		if !ok {
			dropped++
			continue
		}
		if _, dup := seen[u.ID]; dup {
			dropped++
			continue
		}
		seen[u.ID] = struct{}{}
		users = append(users, u)
	}
	return users, dropped
}

func roleOf(v any) Role {
	s, _ := v.(string)
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleCustomer:
		return RoleCustomer
	default:
		return RoleUnknown
	}
}

// ============================================================================
// Messages
// ============================================================================

// NormalizeMessage converts a raw message record. ok is false when the record
// lacks an id, a sender, or a parseable creation time.
func NormalizeMessage(r Record) (Message, bool) {
	if r == nil {
		return Message{}, false
	}
	id := idOf(r, "id", "_id")
	if id == "" {
		return Message{}, false
	}

	sender, hasSender := NormalizeUser(recordOf(r["sender"]))
	receiver, hasReceiver := NormalizeUser(recordOf(r["receiver"]))

	from := idOf(r, "fromUserId", "senderId", "from")
	if from == "" && hasSender {
		from = sender.ID
	}
	if from == "" {
		return Message{}, false
	}
	to := idOf(r, "toUserId", "receiverId", "to")
	if to == "" && hasReceiver {
		to = receiver.ID
	}

	createdAt, ok := timeOf(r["createdAt"])
	if !ok {
		return Message{}, false
	}

	m := Message{
		ID:         id,
		FromUserID: from,
		ToUserID:   to,
		Body:       firstStr(r, "body", "message", "content"),
		ImageURL:   firstStr(r, "imageUrl", "image"),
		CreatedAt:  createdAt,
		IsRead:     boolIs(r["isRead"]) || boolIs(r["read"]),
		OrderID:    idOf(r, "orderId"),
	}
	if order := recordOf(r["order"]); order != nil {
		if m.OrderID == "" {
			m.OrderID = idOf(order, "id", "_id")
		}
		m.OrderStatus = strOr(order, "status", "")
		m.PaymentStatus = strOr(order, "paymentStatus", "")
	}
	if m.OrderStatus == "" {
		m.OrderStatus = strOr(r, "orderStatus", "")
	}
	if m.PaymentStatus == "" {
		m.PaymentStatus = strOr(r, "paymentStatus", "")
	}
	if hasSender {
		m.Sender = &sender
	}
	if hasReceiver {
		m.Receiver = &receiver
	}
	return m, true
}

// NormalizeMessages converts raw messages and returns them ordered by
// CreatedAt ascending. Messages sharing a timestamp keep server order.
func NormalizeMessages(raw []Record) (msgs []Message, dropped int) {
	msgs = make([]Message, 0, len(raw))
	for _, r := range raw {
		m, ok := NormalizeMessage(r)
		if !ok {
			dropped++
			continue
		}
		msgs = append(msgs, m)
	}
	sortMessages(msgs)
	return msgs, dropped
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
}

// ============================================================================
// Conversations
// ============================================================================

// NormalizeConversation converts a raw conversation record. The peer may be
// nested under "peer", "user", "otherUser" or "participant"; a record without a
// usable peer is dropped.
func NormalizeConversation(r Record) (Conversation, bool) {
	if r == nil {
		return Conversation{}, false
	}
	var peer User
	found := false
	for _, key := range []string{"peer", "user", "otherUser", "participant"} {
		if p, ok := NormalizeUser(recordOf(r[key])); ok {
			peer, found = p, true
			break
		}
	}
	if !found {
		return Conversation{}, false
	}

	c := Conversation{
		ID:          idOf(r, "id", "_id", "conversationId"),
		Peer:        peer,
		UnreadCount: intOr(r, "unreadCount", 0),
		OrderID:     idOf(r, "orderId"),
	}
	if c.ID == "" {
		c.ID = peer.ID
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	if lm, ok := NormalizeMessage(recordOf(r["lastMessage"])); ok {
		c.LastMessage = &lm
	}
	return c, true
}

// NormalizeConversations converts raw conversations, keeping server order and
// the first entry per distinct peer.
func NormalizeConversations(raw []Record) (convs []Conversation, dropped int) {
	seen := make(map[string]struct{}, len(raw))
	convs = make([]Conversation, 0, len(raw))
	for _, r := range raw {
		c, ok := NormalizeConversation(r)
		if !ok {
			dropped++
			continue
		}
		if _, dup := seen[c.Peer.ID]; dup {
			dropped++
			continue
		}
		seen[c.Peer.ID] = struct{}{}
		convs = append(convs, c)
	}
	return convs, dropped
}

// conversationsFromAdmins synthesizes placeholder conversations so a customer
// without history still has someone to talk to.
func conversationsFromAdmins(admins []User, selfID string) []Conversation {
	convs := make([]Conversation, 0, len(admins))
	for _, a := range admins {
		if a.ID == selfID {
			continue
		}
		convs = append(convs, Conversation{ID: a.ID, Peer: a})
	}
	return convs
}

// ============================================================================
// Field helpers
// ============================================================================

func strOr(m Record, key, fallback string) string {
	if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func firstStr(m Record, keys ...string) string {
	for _, k := range keys {
		if v := strOr(m, k, ""); v != "" {
			return v
		}
	}
	return ""
}

// idOf reads an identifier that the server may send as a string or a number.
func idOf(m Record, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			if v == math.Trunc(v) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func intOr(m Record, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// boolIs only accepts explicit true values.
func boolIs(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	case float64:
		return b == 1
	}
	return false
}

func recordOf(v any) Record {
	r, _ := v.(map[string]any)
	return r
}

func timeOf(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixAuto(n), true
		}
	case float64:
		return unixAuto(int64(t)), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return unixAuto(n), true
		}
	}
	return time.Time{}, false
}

// unixAuto accepts both second and millisecond epoch values.
func unixAuto(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
