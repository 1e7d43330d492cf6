package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
)

const issuer = "bridgetalk"

// ErrInvalidToken is returned for malformed, expired or tampered tokens
var ErrInvalidToken = errors.New("invalid token")

// JWTClaims represents the claims in a participant token
type JWTClaims struct {
	ParticipantID string                   `json:"participant_id"`
	Name          string                   `json:"name"`
	Role          entities.ParticipantRole `json:"role"`
	jwt.RegisteredClaims
}

// Participant rebuilds the participant carried by the token
func (c *JWTClaims) Participant() entities.Participant {
	return entities.Participant{ID: c.ParticipantID, Name: c.Name, Role: c.Role}
}

// TokenManager issues and validates HS256 participant tokens
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a manager signing with secret
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateParticipantToken signs a token for p and returns it with its expiry
func (m *TokenManager) GenerateParticipantToken(p entities.Participant) (string, time.Time, error) {
	if err := p.Validate(); err != nil {
		return "", time.Time{}, err
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := &JWTClaims{
		ParticipantID: p.ID,
		Name:          p.Name,
		Role:          p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns its claims
func (m *TokenManager) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if p := claims.Participant(); p.Validate() != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
