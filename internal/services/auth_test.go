package services

import (
	"context"
	"testing"
	"time"

	"github.com/profilekit/accounts/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthService() (*AuthService, *memorySessions) {
	sessions := newMemorySessions()
	return NewAuthService(newMemoryUsers(), sessions, "test-secret", time.Hour), sessions
}

func TestSignUpThenAuthenticate(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	session, err := svc.SignUp(ctx, "  ada@example.com ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "bearer", session.TokenType)
	assert.Equal(t, "ada@example.com", session.User.Email)
	assert.NotEmpty(t, session.User.ID)

	principal, err := svc.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User, principal.User)
	assert.Equal(t, session.AccessToken, principal.Session().AccessToken)
}

func TestSignUpRejectsDuplicatesAndBadInput(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, "ADA@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.SignUp(ctx, "not-an-email", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidSignUp)

	_, err = svc.SignUp(ctx, "bob@example.com", "123")
	assert.ErrorIs(t, err, ErrInvalidSignUp)
}

func TestSignUpStoresLowerCasedEmail(t *testing.T) {
	users := newMemoryUsers()
	svc := NewAuthService(users, newMemorySessions(), "test-secret", time.Hour)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, "Ada@Example.COM", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", session.User.Email)
	assert.Equal(t, "ada@example.com", users.byID[session.User.ID].Email)

	_, err = svc.SignIn(ctx, "ADA@example.com", "hunter22")
	assert.NoError(t, err)
}

func TestSignUpMapsConcurrentInsertToEmailTaken(t *testing.T) {
	users := newMemoryUsers()
	users.createErr = store.ConflictError{Constraint: "users_email_lower_key"}
	svc := NewAuthService(users, newMemorySessions(), "test-secret", time.Hour)

	_, err := svc.SignUp(context.Background(), "ada@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignInVerifiesPassword(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	session, err := svc.SignIn(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
}

func TestSignOutRevokesOnlyThatSession(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	first, err := svc.SignUp(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)
	second, err := svc.SignIn(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)

	principal, err := svc.Authenticate(ctx, first.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.SignOut(ctx, principal.SessionID))
	require.NoError(t, svc.SignOut(ctx, principal.SessionID), "second sign-out is a no-op")

	_, err = svc.Authenticate(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.Authenticate(ctx, second.AccessToken)
	assert.NoError(t, err)
}

func TestAuthenticateRejectsExpiredAndForeignTokens(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	session, err := svc.SignUp(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Authenticate(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other := NewAuthService(newMemoryUsers(), newMemorySessions(), "other-secret", time.Hour)
	_, err = other.Authenticate(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = other.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
