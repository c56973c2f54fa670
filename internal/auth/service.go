package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/antoniostano/confidant/internal/cache"
	"github.com/antoniostano/confidant/internal/domain"
	"github.com/antoniostano/confidant/internal/mailer"
	"github.com/antoniostano/confidant/internal/observability"
	"github.com/antoniostano/confidant/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrValidation         = errors.New("validation failed")
)

const (
	DefaultTokenTTL   = 720 * time.Hour
	MinPasswordLength = 6
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
	tokenKeyPrefix   = "auth:token:"
	welcomeTimeout   = 30 * time.Second
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// ValidationError reports the first invalid signup field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	UserByID(ctx context.Context, id string) (domain.User, error)
}

type Options struct {
	TokenTTL   time.Duration
	BcryptCost int
	Mailer     mailer.Mailer
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

type Service struct {
	users   UserStore
	tokens  cache.KVStore
	mailer  mailer.Mailer
	ttl     time.Duration
	cost    int
	logger  *zap.Logger
	metrics *observability.Metrics

	// dummyHash keeps signin timing similar for unknown emails.
	dummyHash []byte
	mailWG    sync.WaitGroup
}

func NewService(users UserStore, tokens cache.KVStore, opts Options) *Service {
	s := &Service{
		users:   users,
		tokens:  tokens,
		mailer:  opts.Mailer,
		ttl:     opts.TokenTTL,
		cost:    opts.BcryptCost,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.mailer == nil {
		s.mailer = mailer.NewNoopMailer(s.logger)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("confidant-dummy-password"), s.cost)
	return s
}

type SignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Session is an issued bearer token.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

// ValidateSignup normalizes the input and returns the first problem found.
func ValidateSignup(in SignupInput) (SignupInput, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case !emailPattern.MatchString(in.Email):
		return in, &ValidationError{Field: "email", Message: "Invalid email address"}
	case utf8.RuneCountInString(in.Password) < MinPasswordLength:
		return in, &ValidationError{Field: "password", Message: fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)}
	case len(in.Password) > maxPasswordBytes:
		return in, &ValidationError{Field: "password", Message: fmt.Sprintf("Password cannot exceed %d bytes", maxPasswordBytes)}
	case in.Name == "":
		return in, &ValidationError{Field: "name", Message: "Name is required"}
	case utf8.RuneCountInString(in.Name) > domain.MaxNameLength:
		return in, &ValidationError{Field: "name", Message: fmt.Sprintf("Name cannot exceed %d characters", domain.MaxNameLength)}
	}
	return in, nil
}

// Signup creates an account and sends the welcome email in the background.
func (s *Service) Signup(ctx context.Context, in SignupInput) (domain.User, error) {
	in, err := ValidateSignup(in)
	if err != nil {
		return domain.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, domain.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: string(hash),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID))

	s.mailWG.Add(1)
	go func() {
		defer s.mailWG.Done()
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), welcomeTimeout)
		defer cancel()
		err := s.mailer.SendWelcome(mctx, user.Email, user.Name)
		s.metrics.ObserveEmail("welcome", err)
		if err != nil {
			s.logger.Warn("welcome email failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}()
	return user, nil
}

// Wait blocks until background emails finish.
func (s *Service) Wait() { s.mailWG.Wait() }

func (s *Service) Signin(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	token := uuid.NewString()
	if err := s.tokens.Set(ctx, tokenKeyPrefix+token, user.ID, s.ttl); err != nil {
		return Session{}, fmt.Errorf("store token: %w", err)
	}
	return Session{Token: token, ExpiresAt: time.Now().UTC().Add(s.ttl), User: user}, nil
}

func (s *Service) Signout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := s.tokens.Delete(ctx, tokenKeyPrefix+token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Authenticate resolves a bearer token to its user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthenticated
	}
	userID, err := s.tokens.Get(ctx, tokenKeyPrefix+token)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return "", ErrUnauthenticated
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return userID, nil
}

func (s *Service) User(ctx context.Context, id string) (domain.User, error) {
	return s.users.UserByID(ctx, id)
}
