package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"gamegroup/internal/models"
	"gamegroup/internal/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	maxTagLen = 64
)

func (s *service) EnsureUser(ctx context.Context, username, email, role string) (int64, error) {
	const op = "service.EnsureUser"

	email, err := normalizeEmail(email)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	r, err := models.ParseRole(role)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInvalidRole, err)
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = email
	}

	id, err := s.storage.UpsertUser(ctx, username, email, r)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	return id, nil
}

func (s *service) GetUser(ctx context.Context, email string) (models.User, error) {
	const op = "service.GetUser"

	email, err := normalizeEmail(email)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUnknownUser)
		}
		return models.User{}, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	return user, nil
}

func (s *service) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "service.ListUsers"

	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	return users, nil
}

func validateGame(game models.Game) error {
	switch {
	case strings.TrimSpace(game.Title) == "":
		return errors.New("title is required")
	case strings.TrimSpace(game.Owner) == "":
		return errors.New("owner is required")
	case game.MinPlayers < 1:
		return errors.New("min_players must be at least 1")
	case game.MinPlayers > game.MaxPlayers:
		return errors.New("minimum players cannot be greater than maximum players")
	case game.BGGRating != nil && (*game.BGGRating < 0 || *game.BGGRating > 10):
		return errors.New("bgg_rating must be between 0 and 10")
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// AddGame stores game on behalf of contributor. Authorization is the
// caller's job.
func (s *service) AddGame(ctx context.Context, contributor string, game models.Game) (int64, error) {
	const op = "service.AddGame"

	if err := validateGame(game); err != nil {
		// Surfaced to clients as is, so no op prefix.
		return 0, fmt.Errorf("%w: %v", ErrInvalidGame, err)
	}

	game.Title = strings.TrimSpace(game.Title)
	game.Owner = strings.TrimSpace(game.Owner)
	game.Tags = normalizeTags(game.Tags)
	game.ContributorEmail = contributor

	id, err := s.storage.AddGame(ctx, game)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	s.log.Info("game added",
		slog.String("op", op),
		slog.Int64("game_id", id),
		slog.String("title", game.Title),
		slog.String("contributor", contributor),
	)

	return id, nil
}

func (s *service) ListGames(ctx context.Context, q models.GameQuery) (models.GamePage, error) {
	const op = "service.ListGames"

	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if !slices.Contains(models.GameSortFields, q.SortBy) {
		q.SortBy = ""
	}
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))

	page, err := s.storage.ListGames(ctx, q)
	if err != nil {
		return models.GamePage{}, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	return page, nil
}

func (s *service) ListTags(ctx context.Context) ([]string, error) {
	const op = "service.ListTags"

	tags, err := s.storage.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	return tags, nil
}

func (s *service) AddTag(ctx context.Context, name string) error {
	const op = "service.AddTag"

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(name) > maxTagLen {
		return fmt.Errorf("%s: %w", op, ErrInvalidTag)
	}

	if err := s.storage.AddTag(ctx, name); err != nil {
		if errors.Is(err, storage.ErrTagExists) {
			return fmt.Errorf("%s: %w", op, ErrTagExists)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}

	return nil
}
