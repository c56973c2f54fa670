package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/antoniostano/confidant/internal/cache"
	"github.com/antoniostano/confidant/internal/store"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMailer) SendWelcome(_ context.Context, email, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return m.err
}

func setupAuth(t *testing.T) (*Service, *miniredis.Miniredis, *recordingMailer) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := &recordingMailer{}
	svc := NewService(store.NewInMemoryStore(), cache.NewRedisKVStore(client), Options{
		BcryptCost: bcrypt.MinCost,
		Mailer:     m,
	})
	return svc, mr, m
}

func TestValidateSignup(t *testing.T) {
	cases := []struct {
		in    SignupInput
		field string
	}{
		{SignupInput{Email: "not-an-email", Password: "secret1", Name: "Sam"}, "email"},
		{SignupInput{Email: "a@b", Password: "secret1", Name: "Sam"}, "email"},
		{SignupInput{Email: "a@b.co", Password: "12345", Name: "Sam"}, "password"},
		{SignupInput{Email: "a@b.co", Password: strings.Repeat("p", 73), Name: "Sam"}, "password"},
		{SignupInput{Email: "a@b.co", Password: "secret1", Name: "  "}, "name"},
		{SignupInput{Email: "a@b.co", Password: "secret1", Name: strings.Repeat("n", 101)}, "name"},
		{SignupInput{Email: "bad", Password: "1", Name: ""}, "email"},
	}
	for _, tc := range cases {
		_, err := ValidateSignup(tc.in)
		require.ErrorIs(t, err, ErrValidation)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, tc.field, verr.Field, "input %+v", tc.in)
	}

	out, err := ValidateSignup(SignupInput{Email: " Sam@Example.COM ", Password: "secret1", Name: " Sam "})
	require.NoError(t, err)
	assert.Equal(t, "sam@example.com", out.Email)
	assert.Equal(t, "Sam", out.Name)
}

func TestSignupSigninSignout(t *testing.T) {
	svc, mr, m := setupAuth(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, SignupInput{Email: "Sam@Example.com", Password: "secret1", Name: "Sam"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	svc.Wait()
	assert.Equal(t, []string{"sam@example.com"}, m.sent)

	_, err = svc.Signup(ctx, SignupInput{Email: "sam@example.com", Password: "another1", Name: "Sam 2"})
	assert.ErrorIs(t, err, store.ErrEmailTaken)

	_, err = svc.Signin(ctx, "sam@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Signin(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	sess, err := svc.Signin(ctx, " SAM@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.User.ID)
	assert.True(t, mr.Exists("auth:token:"+sess.Token))
	assert.Greater(t, mr.TTL("auth:token:"+sess.Token), DefaultTokenTTL-time.Minute)

	got, err := svc.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got)

	require.NoError(t, svc.Signout(ctx, sess.Token))
	_, err = svc.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSignupSurvivesMailerFailure(t *testing.T) {
	svc, _, m := setupAuth(t)
	m.err = errors.New("provider down")

	_, err := svc.Signup(context.Background(), SignupInput{Email: "a@b.co", Password: "secret1", Name: "A"})
	require.NoError(t, err)
	svc.Wait()
	assert.Len(t, m.sent, 1)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	svc, mr, _ := setupAuth(t)
	ctx := context.Background()
	_, err := svc.Signup(ctx, SignupInput{Email: "a@b.co", Password: "secret1", Name: "A"})
	require.NoError(t, err)
	sess, err := svc.Signin(ctx, "a@b.co", "secret1")
	require.NoError(t, err)

	mr.FastForward(DefaultTokenTTL + 1)
	_, err = svc.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddlewareAttachesUser(t *testing.T) {
	svc, _, _ := setupAuth(t)
	ctx := context.Background()
	user, err := svc.Signup(ctx, SignupInput{Email: "a@b.co", Password: "secret1", Name: "A"})
	require.NoError(t, err)
	sess, err := svc.Signin(ctx, "a@b.co", "secret1")
	require.NoError(t, err)

	var seen string
	var seenOK bool
	h := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, seenOK = UserIDFrom(r.Context())
	}))

	cases := []struct {
		name   string
		req    func() *http.Request
		wantID string
	}{
		{"bearer header", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
			r.Header.Set("Authorization", "Bearer "+sess.Token)
			return r
		}, user.ID},
		{"query token", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/chat/ws?token="+sess.Token, nil)
		}, user.ID},
		{"unknown token", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
			r.Header.Set("Authorization", "Bearer nope")
			return r
		}, ""},
		{"no token", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/progress", nil)
		}, ""},
		{"non-bearer scheme", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/progress?token="+sess.Token, nil)
			r.Header.Set("Authorization", "Basic abc")
			return r
		}, ""},
	}
	for _, tc := range cases {
		seen, seenOK = "", false
		h.ServeHTTP(httptest.NewRecorder(), tc.req())
		assert.Equal(t, tc.wantID, seen, tc.name)
		assert.Equal(t, tc.wantID != "", seenOK, tc.name)
	}
}
