package gateway

import (
	"time"

	"coachlink.app/internal/identity"
)

// Client is a coaching client profile.
type Client struct {
	ID        string    `json:"id"`
	CoachID   string    `json:"coach_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedBy string    `json:"created_by"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewClient is the input of CreateClient. CoachID, UserID and CreatedBy are
// provenance: whatever they hold is replaced before the insert.
type NewClient struct {
	FullName string
	Email    string
	Notes    string

	CoachID   string
	UserID    string
	CreatedBy string
}

// StampProvenance makes the caller the author. A coach creates a profile it
// manages; a client creates its own profile with no coach until an
// administrator links one.
func (n *NewClient) StampProvenance(c identity.Caller) {
	n.CreatedBy = c.ID
	if c.Role == identity.RoleCoach {
		n.CoachID, n.UserID = c.ID, ""
		return
	}
	n.CoachID, n.UserID = "", c.ID
}

// Message is a direct message between a coach and one of their clients.
type Message struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// NewMessage is the input of SendMessage. SenderID is replaced by the caller.
type NewMessage struct {
	RecipientID string
	Body        string
	SenderID    string
}

func (n *NewMessage) StampProvenance(c identity.Caller) {
	n.SenderID = c.ID
}

// Integration holds a caller's tokens for a third-party device platform.
type Integration struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewIntegration is the input of UpsertIntegration. UserID is replaced by the caller.
type NewIntegration struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	UserID       string
}

func (n *NewIntegration) StampProvenance(c identity.Caller) {
	n.UserID = c.ID
}

// WeightLog is one body-weight measurement.
type WeightLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CoachID   string    `json:"coach_id,omitempty"`
	CreatedBy string    `json:"created_by"`
	WeightKg  float64   `json:"weight_kg"`
	Note      string    `json:"note,omitempty"`
	LoggedAt  time.Time `json:"logged_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewWeightLog is the input of CreateWeightLog. The owner and author become the
// caller; the managing coach is looked up by the store from the caller's profile.
type NewWeightLog struct {
	WeightKg float64
	Note     string
	LoggedAt time.Time

	UserID    string
	CoachID   string
	CreatedBy string
}

func (n *NewWeightLog) StampProvenance(c identity.Caller) {
	n.UserID = c.ID
	n.CreatedBy = c.ID
	n.CoachID = ""
}

// WorkoutAssignment is a workout a coach scheduled for a client.
type WorkoutAssignment struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	CoachID      string    `json:"coach_id"`
	AssignedBy   string    `json:"assigned_by"`
	Title        string    `json:"title"`
	Details      string    `json:"details,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewWorkoutAssignment is the input of AssignWorkout. CoachID and AssignedBy
// are replaced by the caller.
type NewWorkoutAssignment struct {
	ClientID     string
	Title        string
	Details      string
	ScheduledFor time.Time

	CoachID    string
	AssignedBy string
}

func (n *NewWorkoutAssignment) StampProvenance(c identity.Caller) {
	n.CoachID = c.ID
	n.AssignedBy = c.ID
}
