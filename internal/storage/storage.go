package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"

	"gamegroup/internal/models"
)

const (
	authTokensTable = "auth_tokens"
	usersTable      = "users"
	gamesTable      = "games"
	tagsTable       = "tags"
)

var (
	ErrTokenNotFound = errors.New("auth token not found")
	ErrTokenExpired  = errors.New("auth token expired")
	ErrTokenConsumed = errors.New("auth token already consumed")
	ErrTokenExists   = errors.New("auth token already exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrTagExists     = errors.New("tag already exists")
)

type Storage interface {
	// One-time login tokens
	CreateAuthToken(ctx context.Context, token models.AuthToken) error
	GetAuthToken(ctx context.Context, tokenHash []byte) (models.AuthToken, error)
	// ConsumeAuthToken atomically sets consumed_at = now on an unconsumed,
	// unexpired token. Exactly one concurrent caller wins.
	ConsumeAuthToken(ctx context.Context, tokenHash []byte, now time.Time) (models.AuthToken, error)
	// ReplaceAuthToken marks every live token of token.Email consumed at now
	// and stores token, as one step. It returns how many tokens were spent.
	ReplaceAuthToken(ctx context.Context, token models.AuthToken, now time.Time) (int64, error)
	DeleteAuthToken(ctx context.Context, id uuid.UUID) error
	DeleteExpiredAuthTokens(ctx context.Context, before time.Time) (int64, error)

	// Users
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	UpsertUser(ctx context.Context, username, email string, role models.Role) (int64, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// Library
	AddGame(ctx context.Context, game models.Game) (int64, error)
	ListGames(ctx context.Context, q models.GameQuery) (models.GamePage, error)
	ListTags(ctx context.Context) ([]string, error)
	AddTag(ctx context.Context, name string) error

	Close()
}

// consumeState resolves why a token could not be consumed.
func consumeState(token models.AuthToken, now time.Time) error {
	switch {
	case token.Expired(now):
		return ErrTokenExpired
	case token.Consumed():
		return ErrTokenConsumed
	default:
		return nil
	}
}
