package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/types"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the custom JWT claims embedded in session tokens.
// The token is bearer-only: possession equals identity. The subject is the
// user id; sid/tab tie the token to one session per browser tab.
type SessionClaims struct {
	SessionID string `json:"sid"`
	TabID     string `json:"tab,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 session tokens. It implements
// types.TokenSigner.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from the shared secret. The secret must be at
// least 32 bytes; config validation enforces this before startup.
func NewSigner(secret string) (*Signer, error) {
	if len(secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Mint produces a signed bearer token for the given session.
func (s *Signer) Mint(userID types.UserID, sessionID types.SessionID, tabID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		SessionID: string(sessionID),
		TabID:     tabID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string. Verification is stateless; the
// session store is still consulted afterwards so server-side revocation works.
func (s *Signer) Verify(tokenString string) (*types.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.New("failed to cast claims to SessionClaims")
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &types.TokenClaims{
		UserID:    types.UserID(claims.Subject),
		SessionID: types.SessionID(claims.SessionID),
		TabID:     claims.TabID,
		ExpiresAt: expiresAt,
	}, nil
}

// GetAllowedOriginsFromEnv reads a comma-separated origin list, falling back
// to development defaults when unset.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}
