package entities

import (
	"errors"
	"time"
)

// ParticipantRole identifies which side of the conversation a participant is on
type ParticipantRole string

const (
	ParticipantRoleParent  ParticipantRole = "parent"
	ParticipantRoleTeacher ParticipantRole = "teacher"
)

// IsValid reports whether the role is known
func (r ParticipantRole) IsValid() bool {
	return r == ParticipantRoleParent || r == ParticipantRoleTeacher
}

// Participant represents a parent or teacher taking part in conversations
type Participant struct {
	ID       string          `json:"id" bson:"id"`
	Name     string          `json:"name" bson:"name"`
	Role     ParticipantRole `json:"role" bson:"role"`
	JoinedAt time.Time       `json:"joined_at" bson:"joined_at"`
}

// Validate validates the participant data
func (p *Participant) Validate() error {
	if p.ID == "" {
		return errors.New("participant id is required")
	}
	if p.Name == "" {
		return errors.New("participant name is required")
	}
	if !p.Role.IsValid() {
		return errors.New("participant role must be parent or teacher")
	}
	return nil
}
