// Package auth implements the credential collaborator: generating per-player
// credentials when a seat is claimed and verifying them on every
// state-mutating request.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"turnforge/internal/state"
)

// Authenticator issues and verifies player credentials.
type Authenticator interface {
	// GenerateCredentials mints credentials binding a player to a match
	// seat.
	GenerateCredentials(matchID string, playerID string) (string, error)

	// Authenticate reports whether the presented credentials are valid
	// for the seat described by meta.
	Authenticate(credentials string, meta *state.PlayerMetadata) bool
}

// Plain issues random tokens and verifies them by constant-time comparison
// against the copy stored in the seat metadata. It is the default for tests
// and single-node servers.
type Plain struct{}

// GenerateCredentials returns a fresh random token.
func (Plain) GenerateCredentials(matchID, playerID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credentials: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Authenticate compares the presented token with the stored one.
func (Plain) Authenticate(credentials string, meta *state.PlayerMetadata) bool {
	if meta == nil || meta.Credentials == "" || credentials == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(credentials), []byte(meta.Credentials)) == 1
}

type claims struct {
	MatchID  string `json:"matchID"`
	PlayerID string `json:"playerID"`
	jwt.RegisteredClaims
}

// JWT signs credentials with an HMAC secret, so horizontally scaled
// coordinators can verify seats without sharing a token table.
type JWT struct {
	secret []byte
}

// NewJWT builds a JWT authenticator over the given secret.
func NewJWT(secret []byte) (*JWT, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth secret is required")
	}
	return &JWT{secret: secret}, nil
}

// GenerateCredentials mints a signed token for the seat.
func (j *JWT) GenerateCredentials(matchID, playerID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		MatchID:  matchID,
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign credentials: %w", err)
	}
	return signed, nil
}

// Authenticate verifies the signature and that the token was minted for the
// seat in question.
func (j *JWT) Authenticate(credentials string, meta *state.PlayerMetadata) bool {
	if meta == nil || credentials == "" {
		return false
	}
	var c claims
	token, err := jwt.ParseWithClaims(credentials, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	return c.PlayerID == fmt.Sprint(meta.ID)
}
