package services

import (
	"context"
	"time"

	"bookdesk/internal/domain/user"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService issues and verifies the access tokens carried by admin panel
// requests and websocket handshakes. Login and session management live in
// the identity provider that signs them.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(secret string, accessTTL time.Duration) *AuthService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &AuthService{jwtSecret: []byte(secret), accessTTL: accessTTL}
}

type AccessClaims struct {
	UserID string    `json:"sub"`
	Role   user.Role `json:"role"`
	jwt.RegisteredClaims
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, bookdesk_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, bookdesk_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, bookdesk_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || !claims.Role.Valid() {
		return AccessClaims{}, bookdesk_errors.ErrUnauthorized
	}
	return *claims, nil
}

// IssueAccessToken signs a token for userID, used by the migrate tool to hand
// out admin tokens and by tests.
func (s *AuthService) IssueAccessToken(userID uuid.UUID, role user.Role) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type contextKey string

const (
	userIDKey contextKey = "user_id"
	roleKey   contextKey = "user_role"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID uuid.UUID
	Role   user.Role
}

func WithCaller(ctx context.Context, userID uuid.UUID, role user.Role) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok && userID != uuid.Nil
}

func CallerFromContext(ctx context.Context) (Caller, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return Caller{}, bookdesk_errors.New(bookdesk_errors.CodeAuthentication, "caller not authenticated")
	}
	role, _ := ctx.Value(roleKey).(user.Role)
	if !role.Valid() {
		return Caller{}, bookdesk_errors.New(bookdesk_errors.CodeAuthentication, "caller role missing")
	}
	return Caller{UserID: userID, Role: role}, nil
}
