package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"formline/internal/domain"
	"formline/internal/events"
	"formline/internal/repo"
)

const minPasswordLen = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSigningDisabled    = errors.New("jwt secret not configured")
)

// TokenClaims are carried by session tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Register creates a user. Emails listed under auth.admins get the admin
// role.
func (e Engine) Register(ctx context.Context, email, password string) (domain.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return domain.User{}, fmt.Errorf("invalid email %q", email)
	}
	if len(password) < minPasswordLen {
		return domain.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Email:     repo.NormalizeEmail(addr.Address),
		Role:      domain.RoleUser,
		CreatedAt: e.stamp(),
	}
	if e.Config.IsAdminEmail(u.Email) {
		u.Role = domain.RoleAdmin
	}
	err = withTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, u, string(hash)); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserRegistered, "user", u.ID, u.Email, events.EventPayload{"role": u.Role})
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Login checks the password and returns the user with a signed token.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	u, hash, err := e.Repo.GetUserCredentials(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := e.IssueToken(u)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, token, nil
}

// IssueToken signs an HS256 token for u valid for auth.token_ttl.
func (e Engine) IssueToken(u domain.User) (string, error) {
	if len(e.JWTSecret) == 0 {
		return "", ErrSigningDisabled
	}
	ttl, err := e.Config.TokenTTL()
	if err != nil {
		return "", err
	}
	now := e.now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: u.Email,
		Role:  u.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.JWTSecret)
}

// ParseToken verifies a token issued by IssueToken.
func (e Engine) ParseToken(token string) (TokenClaims, error) {
	if len(e.JWTSecret) == 0 {
		return TokenClaims{}, ErrSigningDisabled
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(e.now),
	)
	var claims TokenClaims
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return e.JWTSecret, nil
	})
	if err != nil {
		return TokenClaims{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return TokenClaims{}, errors.New("invalid token")
	}
	return claims, nil
}

// SetUserRole changes the role of the user with email.
func (e Engine) SetUserRole(ctx context.Context, email, role, actorID string) (domain.User, error) {
	if _, ok := e.Config.RBAC.Roles[role]; !ok {
		return domain.User{}, fmt.Errorf("unknown role %q", role)
	}
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %s: %w", email, err)
	}
	err = withTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.SetUserRole(ctx, tx, u.ID, role); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserRoleChanged, "user", u.ID, actorID, events.EventPayload{
			"from": u.Role,
			"to":   role,
		})
	})
	if err != nil {
		return domain.User{}, err
	}
	u.Role = role
	return u, nil
}

// CreateAPIKey mints a key for userID. The plain key is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("user %s: %w", userID, err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "flk_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	err := withTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, userID, events.EventPayload{"name": name})
	})
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// RevokeAPIKey deletes key id of userID.
func (e Engine) RevokeAPIKey(ctx context.Context, userID, keyID, actorID string) error {
	return withTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, keyID, userID); err != nil {
			return fmt.Errorf("api key %s: %w", keyID, err)
		}
		return e.Events.Append(ctx, tx, events.APIKeyRevoked, "api_key", keyID, actorID, events.EventPayload{"user_id": userID})
	})
}

// UserForAPIKey resolves the owner of a plain API key.
func (e Engine) UserForAPIKey(ctx context.Context, plain string) (domain.User, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, key.UserID)
}

