package models

import "time"

// Visibility controls who may discover a presence.
type Visibility string

const (
	VisibilityFriends Visibility = "friends"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is one of the known visibility classes.
func (v Visibility) Valid() bool {
	return v == VisibilityFriends || v == VisibilityPublic
}

// DefaultStatusText is used when a broadcast is started without a status.
const DefaultStatusText = "Available for a spontaneous hangout!"

// User represents a user in the system
type User struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Token     string    `json:"token"`
	PushToken *string   `json:"push_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Presence is one user's live, time-limited "I'm available nearby" broadcast.
// Rows are append-only: stopping or expiring flips IsActive, never deletes.
type Presence struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	StatusText string     `json:"status_text"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	Visibility Visibility `json:"visibility"`
	IsActive   bool       `json:"is_active"`
	LastSeen   time.Time  `json:"last_seen"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Coordinates implements geo.Locatable.
func (p *Presence) Coordinates() (float64, float64) {
	return p.Latitude, p.Longitude
}

// ParticipantStatus is a viewer's stated intent toward a presence.
type ParticipantStatus string

const (
	ParticipantComing ParticipantStatus = "coming"
	ParticipantThere  ParticipantStatus = "there"
)

// Valid reports whether s is a known participant status.
func (s ParticipantStatus) Valid() bool {
	return s == ParticipantComing || s == ParticipantThere
}

// Participant records one viewer's intent toward one presence. At most one
// row per (presence, user) pair; no row means no stated intent.
type Participant struct {
	PresenceID string            `json:"presence_id"`
	UserID     string            `json:"user_id"`
	Status     ParticipantStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Event is a scheduled, non-ephemeral gathering. A nil Date marks a
// still-undated gathering, which counts as future for visibility.
type Event struct {
	ID         string     `json:"id"`
	HostUserID string     `json:"host_user_id"`
	Title      string     `json:"title"`
	Date       *time.Time `json:"date,omitempty"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Coordinates implements geo.Locatable.
func (e *Event) Coordinates() (float64, float64) {
	return e.Latitude, e.Longitude
}

// EventRSVP records one user's commitment to attend an event. At most one
// row per (event, user) pair; no row means not attending.
type EventRSVP struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FriendshipStatus is the state of a friendship edge.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
)

// Friendship is an undirected edge between two users. Only accepted edges
// count toward visibility.
type Friendship struct {
	ID        string           `json:"id"`
	UserID1   string           `json:"user_id_1"`
	UserID2   string           `json:"user_id_2"`
	Status    FriendshipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ChangeKind tags a change notification.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// ChangeNotification is one row-level change on the presence table.
// New carries the row after the change, Old the row before a delete.
type ChangeNotification struct {
	Kind ChangeKind `json:"kind"`
	New  *Presence  `json:"new,omitempty"`
	Old  *Presence  `json:"old,omitempty"`
}

// Row returns whichever presence row the notification carries, preferring
// the new one.
func (c ChangeNotification) Row() *Presence {
	if c.New != nil {
		return c.New
	}
	return c.Old
}
