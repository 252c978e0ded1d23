package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/clonearena-backend/internal/model"
)

// Tab token errors.
var (
	ErrTokenInvalid = errors.New("invalid tab token")
	ErrTokenExpired = errors.New("tab token expired")
)

// Claims identifies the browser tab a request belongs to.
type Claims struct {
	jwt.RegisteredClaims
	TabID string `json:"tab_id"`
}

// TabService issues and validates tab tokens. A tab token scopes every
// session-store key, which gives each browser tab its own sessions.
type TabService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTabService(secret string, expiry time.Duration) *TabService {
	return &TabService{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// IssueTab creates a new tab scope and its signed token.
func (s *TabService) IssueTab() (*model.TabSession, error) {
	tabID := uuid.New().String()
	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   tabID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TabID: tabID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign tab token: %w", err)
	}

	return &model.TabSession{TabID: tabID, Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateToken parses and verifies a tab token.
func (s *TabService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if _, err := uuid.Parse(claims.TabID); err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
