package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
)

var teacher = entities.Participant{ID: "t-1", Name: "Mr. Rao", Role: entities.ParticipantRoleTeacher}

func TestGenerateAndValidate(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)

	token, expiresAt, err := m.GenerateParticipantToken(teacher)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if time.Until(expiresAt) <= 59*time.Minute {
		t.Errorf("unexpected expiry %s", expiresAt)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.Participant().ID != teacher.ID || claims.Role != entities.ParticipantRoleTeacher || claims.Name != teacher.Name {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, _, _ := m.GenerateParticipantToken(teacher)

	if _, err := NewTokenManager("other", time.Hour).ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected signature mismatch to fail, got %v", err)
	}

	if _, err := m.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected malformed token to fail, got %v", err)
	}

	expired := NewTokenManager("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, _ := expired.GenerateParticipantToken(teacher)
	if _, err := m.ValidateToken(old); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected expired token to fail, got %v", err)
	}
}

func TestGenerateRequiresValidParticipant(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	if _, _, err := m.GenerateParticipantToken(entities.Participant{ID: "x", Name: "X", Role: "principal"}); err == nil {
		t.Error("expected invalid role to be rejected")
	}
}
