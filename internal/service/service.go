package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"gamegroup/internal/auth"
	"gamegroup/internal/mail"
	"gamegroup/internal/metrics"
	"gamegroup/internal/models"
	"gamegroup/internal/storage"
)

const verifyLinkPath = "/auth/verify-link"

type Service interface {
	RequestLoginLink(ctx context.Context, email string) (models.AuthToken, error)
	VerifyLoginLink(ctx context.Context, secret string) (Session, error)
	ValidateSession(credential string) (auth.Identity, error)

	EnsureUser(ctx context.Context, username, email, role string) (int64, error)
	GetUser(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	AddGame(ctx context.Context, contributor string, game models.Game) (int64, error)
	ListGames(ctx context.Context, q models.GameQuery) (models.GamePage, error)
	ListTags(ctx context.Context) ([]string, error)
	AddTag(ctx context.Context, name string) error
}

// Session is the result of a successful login link verification.
type Session struct {
	Token     string
	Subject   string
	Role      models.Role
	ExpiresAt time.Time
}

type Config struct {
	BaseURL string
	LinkTTL time.Duration
	// SingleActiveToken invalidates outstanding links for an email when a
	// new one is issued.
	SingleActiveToken bool
	// RevokeOnDispatchFailure deletes a persisted link whose email could
	// not be sent. Otherwise the link stays consumable until it expires.
	RevokeOnDispatchFailure bool
	Now                     func() time.Time
}

type service struct {
	storage  storage.Storage
	mailer   mail.Dispatcher
	sessions *auth.SessionProvider
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      Config
}

func NewService(st storage.Storage, mailer mail.Dispatcher, sessions *auth.SessionProvider, m *metrics.Metrics, lgr *slog.Logger, cfg Config) *service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &service{
		storage:  st,
		mailer:   mailer,
		sessions: sessions,
		metrics:  m,
		log:      lgr,
		cfg:      cfg,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func (s *service) buildLoginLink(secret string) (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + verifyLinkPath
	q := u.Query()
	q.Set("token", secret)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RequestLoginLink issues a one-time token for email and mails the link.
// The returned record never carries the secret.
func (s *service) RequestLoginLink(ctx context.Context, email string) (models.AuthToken, error) {
	const op = "service.RequestLoginLink"

	log := s.log.With(slog.String("op", op))

	email, err := normalizeEmail(email)
	if err != nil {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, err)
	}

	tokenID, err := uuid.NewV4()
	if err != nil {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, err)
	}

	secret, hash, err := auth.NewLinkToken()
	if err != nil {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, err)
	}

	link, err := s.buildLoginLink(secret)
	if err != nil {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.cfg.Now().UTC()
	token := models.AuthToken{
		ID:        tokenID,
		TokenHash: hash,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.LinkTTL),
	}

	if err := s.storeToken(ctx, log, token, now); err != nil {
		log.Error("failed to store login link", slog.Any("error", err))
		s.metrics.LinkIssued("storage_error")
		return models.AuthToken{}, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	if err := s.mailer.SendLoginLink(ctx, email, link, s.cfg.LinkTTL); err != nil {
		log.Error("failed to dispatch login link", slog.Any("token_id", token.ID), slog.Any("error", err))
		s.metrics.LinkIssued("dispatch_error")

		if s.cfg.RevokeOnDispatchFailure {
			// The request context may already be done after a mail timeout.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if derr := s.storage.DeleteAuthToken(rctx, token.ID); derr != nil && !errors.Is(derr, storage.ErrTokenNotFound) {
				log.Error("failed to revoke undelivered login link", slog.Any("token_id", token.ID), slog.Any("error", derr))
			}
		}

		return models.AuthToken{}, fmt.Errorf("%s: %w: %w", op, ErrDispatch, err)
	}

	s.metrics.LinkIssued("sent")
	log.Info("login link issued", slog.Any("token_id", token.ID), slog.Time("expires_at", token.ExpiresAt))

	token.TokenHash = nil
	return token, nil
}

func (s *service) storeToken(ctx context.Context, log *slog.Logger, token models.AuthToken, now time.Time) error {
	if !s.cfg.SingleActiveToken {
		return s.storage.CreateAuthToken(ctx, token)
	}

	n, err := s.storage.ReplaceAuthToken(ctx, token, now)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Debug("invalidated outstanding links", slog.Int64("count", n))
	}
	return nil
}

// VerifyLoginLink consumes the token behind secret and mints a session.
// A token is consumed at most once, even under concurrent calls.
func (s *service) VerifyLoginLink(ctx context.Context, secret string) (Session, error) {
	const op = "service.VerifyLoginLink"

	log := s.log.With(slog.String("op", op))

	hash, err := auth.HashLinkToken(secret)
	if err != nil {
		s.metrics.Verification(metrics.OutcomeNotFound)
		return Session{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	token, err := s.storage.ConsumeAuthToken(ctx, hash, s.cfg.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrTokenNotFound):
		s.metrics.Verification(metrics.OutcomeNotFound)
		return Session{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrTokenExpired):
		s.metrics.Verification(metrics.OutcomeExpired)
		return Session{}, fmt.Errorf("%s: %w", op, ErrExpired)
	case errors.Is(err, storage.ErrTokenConsumed):
		s.metrics.Verification(metrics.OutcomeAlreadyUsed)
		return Session{}, fmt.Errorf("%s: %w", op, ErrAlreadyUsed)
	default:
		s.metrics.Verification(metrics.OutcomeError)
		log.Error("failed to consume login link", slog.Any("error", err))
		return Session{}, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	log = log.With(slog.Any("token_id", token.ID))

	user, err := s.storage.GetUserByEmail(ctx, token.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.metrics.Verification(metrics.OutcomeUnknownUser)
			log.Warn("login link verified for unknown user")
			return Session{}, fmt.Errorf("%s: %w", op, ErrUnknownUser)
		}
		s.metrics.Verification(metrics.OutcomeError)
		log.Error("failed to resolve user", slog.Any("error", err))
		return Session{}, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	if !user.Role.Valid() {
		s.metrics.Verification(metrics.OutcomeUnknownUser)
		log.Warn("user has no valid role", slog.Int64("user_id", user.ID))
		return Session{}, fmt.Errorf("%s: %w", op, ErrUnknownUser)
	}

	credential, expiresAt, err := s.sessions.Mint(token.Email, user.Role)
	if err != nil {
		s.metrics.Verification(metrics.OutcomeError)
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Verification(metrics.OutcomeSuccess)
	log.Info("login link verified", slog.Int64("user_id", user.ID), slog.String("role", user.Role.String()))

	return Session{
		Token:     credential,
		Subject:   token.Email,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *service) ValidateSession(credential string) (auth.Identity, error) {
	return s.sessions.Validate(credential)
}
