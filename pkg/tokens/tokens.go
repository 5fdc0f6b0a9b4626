package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid helper token")
	ErrExpiredToken = errors.New("helper token has expired")
)

// Claims carries the approval scope embedded in a helper token. Subject is the
// approval id; ActionID pins the token to one allowlisted action.
type Claims struct {
	ActionID string `json:"action_id"`
	ChatID   string `json:"chat_id,omitempty"`
	jwt.RegisteredClaims
}

// Manager mints and validates the signed bearer tokens handed to execution
// agents alongside a job descriptor.
type Manager struct {
	secretKey []byte
}

// NewManager creates a Manager using the given HMAC secret.
func NewManager(secretKey string) (*Manager, error) {
	if secretKey == "" {
		return nil, errors.New("tokens: secret key is required")
	}
	return &Manager{secretKey: []byte(secretKey)}, nil
}

// Mint produces a signed token scoped to one approval. The token TTL matches
// the approval expiry so a stale token can never outlive its approval.
func (m *Manager) Mint(approvalID, actionID, chatID string, expiresAt time.Time) (string, error) {
	if m == nil {
		return "", errors.New("nil token manager")
	}

	now := time.Now()
	claims := &Claims{
		ActionID: actionID,
		ChatID:   chatID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        approvalID,
			Subject:   approvalID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign helper token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a helper token, returning its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	if m == nil {
		return nil, errors.New("nil token manager")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
