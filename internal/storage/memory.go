package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"gamegroup/internal/models"
)

// MemoryStorage keeps everything in process memory. It serves tests and the
// `storage: memory` mode; data is lost on restart.
type MemoryStorage struct {
	mu     sync.RWMutex
	tokens map[string]models.AuthToken
	users  map[string]models.User
	games  []models.Game
	tags   map[string]struct{}
	nextID int64
	now    func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tokens: make(map[string]models.AuthToken),
		users:  make(map[string]models.User),
		tags:   make(map[string]struct{}),
		now:    time.Now,
	}
}

func cloneToken(t models.AuthToken) models.AuthToken {
	t.TokenHash = slices.Clone(t.TokenHash)
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		t.ConsumedAt = &at
	}
	return t
}

func (s *MemoryStorage) CreateAuthToken(_ context.Context, token models.AuthToken) error {
	const op = "storage.CreateAuthToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(token.TokenHash)
	if _, ok := s.tokens[key]; ok {
		return fmt.Errorf("%s: %w", op, ErrTokenExists)
	}
	s.tokens[key] = cloneToken(token)

	return nil
}

func (s *MemoryStorage) GetAuthToken(_ context.Context, tokenHash []byte) (models.AuthToken, error) {
	const op = "storage.GetAuthToken"

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[string(tokenHash)]
	if !ok {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
	}

	return cloneToken(token), nil
}

func (s *MemoryStorage) ConsumeAuthToken(_ context.Context, tokenHash []byte, now time.Time) (models.AuthToken, error) {
	const op = "storage.ConsumeAuthToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(tokenHash)
	token, ok := s.tokens[key]
	if !ok {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
	}
	if err := consumeState(token, now); err != nil {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, err)
	}

	consumedAt := now
	token.ConsumedAt = &consumedAt
	s.tokens[key] = token

	return cloneToken(token), nil
}

func (s *MemoryStorage) ReplaceAuthToken(_ context.Context, token models.AuthToken, now time.Time) (int64, error) {
	const op = "storage.ReplaceAuthToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(token.TokenHash)
	if _, ok := s.tokens[key]; ok {
		return 0, fmt.Errorf("%s: %w", op, ErrTokenExists)
	}

	var n int64
	for k, t := range s.tokens {
		if t.Email != token.Email || consumeState(t, now) != nil {
			continue
		}
		consumedAt := now
		t.ConsumedAt = &consumedAt
		s.tokens[k] = t
		n++
	}
	s.tokens[key] = cloneToken(token)

	return n, nil
}

func (s *MemoryStorage) DeleteAuthToken(_ context.Context, id uuid.UUID) error {
	const op = "storage.DeleteAuthToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, token := range s.tokens {
		if token.ID == id {
			delete(s.tokens, key)
			return nil
		}
	}

	return fmt.Errorf("%s: %w", op, ErrTokenNotFound)
}

func (s *MemoryStorage) DeleteExpiredAuthTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deletedCount int64
	for key, token := range s.tokens {
		if token.ExpiresAt.Before(before) {
			delete(s.tokens, key)
			deletedCount++
		}
	}

	return deletedCount, nil
}

func (s *MemoryStorage) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[email]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}

	return user, nil
}

func (s *MemoryStorage) UpsertUser(_ context.Context, username, email string, role models.Role) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	user, ok := s.users[email]
	if !ok {
		s.nextID++
		user = models.User{ID: s.nextID, Email: email, CreatedAt: now}
	}
	user.Username = username
	user.Role = role
	user.UpdatedAt = now
	s.users[email] = user

	return user.ID, nil
}

func (s *MemoryStorage) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID > users[j].ID })

	return users, nil
}

func (s *MemoryStorage) AddGame(_ context.Context, game models.Game) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	game.ID = s.nextID
	game.CreatedAt = s.now()
	game.Tags = slices.Clone(game.Tags)
	if game.Tags == nil {
		game.Tags = []string{}
	}
	s.games = append(s.games, game)

	return game.ID, nil
}

func compareGames(sortBy string, a, b models.Game) int {
	var c int
	switch sortBy {
	case "title":
	case "owner":
		c = strings.Compare(a.Owner, b.Owner)
	case "min_players":
		c = a.MinPlayers - b.MinPlayers
	case "max_players":
		c = a.MaxPlayers - b.MaxPlayers
	case "bgg_rating":
		c = compareRating(a.BGGRating, b.BGGRating)
	case "created_at":
		c = a.CreatedAt.Compare(b.CreatedAt)
	default:
		// Newest first; IDs are monotonic.
		return int(b.ID - a.ID)
	}
	if c != 0 {
		return c
	}
	return strings.Compare(a.Title, b.Title)
}

// compareRating orders NULL last, as Postgres does for ASC.
func compareRating(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	default:
		return 0
	}
}

func (s *MemoryStorage) ListGames(_ context.Context, q models.GameQuery) (models.GamePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.Game, 0, len(s.games))
	for _, g := range s.games {
		if q.Tag != "" && !slices.Contains(g.Tags, q.Tag) {
			continue
		}
		matched = append(matched, g)
	}

	slices.SortStableFunc(matched, func(a, b models.Game) int {
		return compareGames(q.SortBy, a, b)
	})

	page := models.GamePage{Games: []models.Game{}, Total: len(matched), Limit: q.Limit, Offset: q.Offset}
	if q.Offset >= len(matched) {
		return page, nil
	}
	end := len(matched)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	page.Games = append(page.Games, matched[q.Offset:end]...)

	return page, nil
}

func (s *MemoryStorage) ListTags(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags := make([]string, 0, len(s.tags))
	for name := range s.tags {
		tags = append(tags, name)
	}
	sort.Strings(tags)

	return tags, nil
}

func (s *MemoryStorage) AddTag(_ context.Context, name string) error {
	const op = "storage.AddTag"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[name]; ok {
		return fmt.Errorf("%s: %w", op, ErrTagExists)
	}
	s.tags[name] = struct{}{}

	return nil
}

func (s *MemoryStorage) Close() {}
