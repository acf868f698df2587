package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/profilekit/accounts/internal/store"
	"github.com/profilekit/accounts/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL   = 24 * time.Hour
	minPasswordLength = 6
	tokenTypeBearer   = "bearer"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidSignUp      = errors.New("invalid sign up")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// SessionRepository defines persistence operations for sessions.
type SessionRepository interface {
	Create(ctx context.Context, session store.SessionRecord) error
	Get(ctx context.Context, id string) (store.SessionRecord, error)
	Revoke(ctx context.Context, id string) error
}

// Principal is the caller resolved from a bearer token.
type Principal struct {
	User      types.SessionUser
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// Session renders the principal the way the session endpoint returns it.
func (p Principal) Session() types.Session {
	return types.Session{
		AccessToken: p.Token,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   p.ExpiresAt,
		User:        p.User,
	}
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AuthService issues, resolves and terminates sessions.
type AuthService struct {
	users    UserRepository
	sessions SessionRepository
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewAuthService(users UserRepository, sessions SessionRepository, jwtSecret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		secret:   []byte(jwtSecret),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// SignUp creates a user and signs them in. Emails are stored lower-cased.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (types.Session, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return types.Session{}, fmt.Errorf("%w: invalid email", ErrInvalidSignUp)
	}
	if len(password) < minPasswordLength {
		return types.Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidSignUp, minPasswordLength)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return types.Session{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Session{}, fmt.Errorf("check email: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return types.Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        email,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.Session{}, ErrEmailTaken
		}
		return types.Session{}, fmt.Errorf("create user: %w", err)
	}

	return s.startSession(ctx, user)
}

// SignIn verifies credentials and opens a new session.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (types.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return types.Session{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Session{}, ErrInvalidCredentials
		}
		return types.Session{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.Session{}, ErrInvalidCredentials
	}

	return s.startSession(ctx, user)
}

// Authenticate resolves a bearer token into a principal. The token must be
// well formed, unexpired and bound to a session that has not been revoked.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (Principal, error) {
	claims := sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}

	session, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Principal{}, fmt.Errorf("%w: unknown session", ErrUnauthenticated)
		}
		return Principal{}, fmt.Errorf("load session: %w", err)
	}
	if session.RevokedAt != nil {
		return Principal{}, fmt.Errorf("%w: session revoked", ErrUnauthenticated)
	}
	if session.UserID != claims.Subject {
		return Principal{}, fmt.Errorf("%w: session subject mismatch", ErrUnauthenticated)
	}
	if !s.now().Before(session.ExpiresAt) {
		return Principal{}, fmt.Errorf("%w: session expired", ErrUnauthenticated)
	}

	return Principal{
		User:      types.SessionUser{ID: claims.Subject, Email: claims.Email},
		SessionID: claims.ID,
		Token:     tokenString,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// SignOut revokes the session. Revoking twice is not an error.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *AuthService) startSession(ctx context.Context, user types.User) (types.Session, error) {
	now := s.now()
	record := store.SessionRecord{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenTTL),
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		return types.Session{}, fmt.Errorf("create session: %w", err)
	}

	token, err := s.issueToken(user, record)
	if err != nil {
		return types.Session{}, fmt.Errorf("sign token: %w", err)
	}

	return types.Session{
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   record.ExpiresAt,
		User:        types.SessionUser{ID: user.ID, Email: user.Email},
	}, nil
}

func (s *AuthService) issueToken(user types.User, session store.SessionRecord) (string, error) {
	claims := sessionClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
