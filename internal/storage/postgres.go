package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gamegroup/internal/models"
)

const pgUniqueViolation = "23505"

type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, DbURL string) (*PostgresStorage, error) {
	const op = "storage.NewPostgresStorage"

	conn, err := pgxpool.Connect(ctx, DbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStorage{
		db: conn,
	}, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

func insertAuthToken(ctx context.Context, db execer, token models.AuthToken) error {
	query := fmt.Sprintf(`INSERT INTO %s(id, token_hash, email, created_at, expires_at, consumed_at)
	VALUES ($1, $2, $3, $4, $5, $6)`, authTokensTable)

	_, err := db.Exec(ctx, query, token.ID, token.TokenHash, token.Email, token.CreatedAt, token.ExpiresAt, token.ConsumedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrTokenExists
		}
		return err
	}

	return nil
}

func (p *PostgresStorage) CreateAuthToken(ctx context.Context, token models.AuthToken) error {
	const op = "storage.CreateAuthToken"

	if err := insertAuthToken(ctx, p.db, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

const authTokenColumns = "id, token_hash, email, created_at, expires_at, consumed_at"

func scanAuthToken(row pgx.Row) (models.AuthToken, error) {
	var token models.AuthToken
	err := row.Scan(
		&token.ID,
		&token.TokenHash,
		&token.Email,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.ConsumedAt,
	)
	return token, err
}

func (p *PostgresStorage) GetAuthToken(ctx context.Context, tokenHash []byte) (models.AuthToken, error) {
	const op = "storage.GetAuthToken"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE token_hash=$1;", authTokenColumns, authTokensTable)

	token, err := scanAuthToken(p.db.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AuthToken{}, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
		}
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (p *PostgresStorage) ConsumeAuthToken(ctx context.Context, tokenHash []byte, now time.Time) (models.AuthToken, error) {
	const op = "storage.ConsumeAuthToken"

	// The guard in WHERE makes the update the single point of decision.
	query := fmt.Sprintf(`
      UPDATE %s
         SET consumed_at = $2
       WHERE token_hash = $1
         AND consumed_at IS NULL
         AND expires_at >= $2
   RETURNING %s`, authTokensTable, authTokenColumns)

	token, err := scanAuthToken(p.db.QueryRow(ctx, query, tokenHash, now))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, err)
	}

	current, err := p.GetAuthToken(ctx, tokenHash)
	if err != nil {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, err)
	}
	if state := consumeState(current, now); state != nil {
		return models.AuthToken{}, fmt.Errorf("%s: %w", op, state)
	}

	// Row looked consumable on re-read but the guarded update missed it:
	// another verifier won and its write is not visible yet.
	return models.AuthToken{}, fmt.Errorf("%s: %w", op, ErrTokenConsumed)
}

// ReplaceAuthToken spends every live token for token.Email and inserts token
// in one transaction. Issuers for the same email serialize on the advisory lock.
func (p *PostgresStorage) ReplaceAuthToken(ctx context.Context, token models.AuthToken, now time.Time) (int64, error) {
	const op = "storage.ReplaceAuthToken"

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", token.Email); err != nil {
		return 0, fmt.Errorf("%s (lock): %w", op, err)
	}

	query := fmt.Sprintf(`
      UPDATE %s
         SET consumed_at = $2
       WHERE email = $1
         AND consumed_at IS NULL
         AND expires_at >= $2`, authTokensTable)

	tag, err := tx.Exec(ctx, query, token.Email, now)
	if err != nil {
		return 0, fmt.Errorf("%s (invalidate): %w", op, err)
	}

	if err := insertAuthToken(ctx, tx, token); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s (commit): %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (p *PostgresStorage) DeleteAuthToken(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteAuthToken"

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", authTokensTable)
	tag, err := p.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrTokenNotFound)
	}

	return nil
}

func (p *PostgresStorage) DeleteExpiredAuthTokens(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.DeleteExpiredAuthTokens"

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < $1", authTokensTable)
	tag, err := p.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (p *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	var (
		user models.User
		role string
	)
	query := fmt.Sprintf("SELECT id, username, email, role, created_at, updated_at FROM %s WHERE email=$1;", usersTable)

	err := p.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Username, &user.Email, &role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	// Unknown values stay RoleNone and never authorize.
	user.Role, _ = models.ParseRole(role)

	return user, nil
}

func (p *PostgresStorage) UpsertUser(ctx context.Context, username, email string, role models.Role) (int64, error) {
	const op = "storage.UpsertUser"

	var userID int64
	query := fmt.Sprintf(`INSERT INTO %s(username, email, role) VALUES ($1, $2, $3)
	ON CONFLICT (email) DO UPDATE
	SET username = EXCLUDED.username,
	    role = EXCLUDED.role,
	    updated_at = now()
	RETURNING id;`, usersTable)

	err := p.db.QueryRow(ctx, query, username, email, role.String()).Scan(&userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return userID, nil
}

func (p *PostgresStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "storage.ListUsers"

	var users []models.User
	query := fmt.Sprintf("SELECT id, username, email, role, created_at, updated_at FROM %s ORDER BY created_at DESC;", usersTable)

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return users, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			user models.User
			role string
		)

		err := rows.Scan(&user.ID, &user.Username, &user.Email, &role, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return users, fmt.Errorf("%s: %w", op, err)
		}
		user.Role, _ = models.ParseRole(role)

		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return users, nil
}

func (p *PostgresStorage) AddGame(ctx context.Context, game models.Game) (int64, error) {
	const op = "storage.AddGame"

	var gameID int64
	query := fmt.Sprintf(`INSERT INTO %s(title, owner, min_players, max_players, description,
	tags, image_url, bgg_link, bgg_rating, contributor_email)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id;`, gamesTable)

	tags := game.Tags
	if tags == nil {
		tags = []string{}
	}

	err := p.db.QueryRow(ctx, query,
		game.Title, game.Owner, game.MinPlayers, game.MaxPlayers, game.Description,
		tags, game.ImageURL, game.BGGLink, game.BGGRating, game.ContributorEmail,
	).Scan(&gameID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return gameID, nil
}

func gameOrderClause(sortBy string) string {
	if slices.Contains(models.GameSortFields, sortBy) {
		return fmt.Sprintf("ORDER BY %s ASC, title ASC", sortBy)
	}
	return "ORDER BY created_at DESC"
}

func (p *PostgresStorage) ListGames(ctx context.Context, q models.GameQuery) (models.GamePage, error) {
	const op = "storage.ListGames"

	page := models.GamePage{Games: []models.Game{}, Limit: q.Limit, Offset: q.Offset}

	var (
		where strings.Builder
		args  []any
	)
	if q.Tag != "" {
		args = append(args, q.Tag)
		where.WriteString("WHERE $1 = ANY(tags)")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", gamesTable, where.String())
	if err := p.db.QueryRow(ctx, countQuery, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("%s (count): %w", op, err)
	}

	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(`SELECT id, title, owner, min_players, max_players, description,
	tags, image_url, bgg_link, bgg_rating, contributor_email, created_at
	FROM %s %s %s LIMIT $%d OFFSET $%d`, gamesTable, where.String(), gameOrderClause(q.SortBy), len(args)-1, len(args))

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var game models.Game

		err := rows.Scan(
			&game.ID, &game.Title, &game.Owner, &game.MinPlayers, &game.MaxPlayers, &game.Description,
			&game.Tags, &game.ImageURL, &game.BGGLink, &game.BGGRating, &game.ContributorEmail, &game.CreatedAt,
		)
		if err != nil {
			return page, fmt.Errorf("%s: %w", op, err)
		}

		page.Games = append(page.Games, game)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("%s (rows): %w", op, err)
	}

	return page, nil
}

func (p *PostgresStorage) ListTags(ctx context.Context) ([]string, error) {
	const op = "storage.ListTags"

	tags := []string{}
	query := fmt.Sprintf("SELECT name FROM %s ORDER BY name;", tagsTable)

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return tags, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return tags, fmt.Errorf("%s: %w", op, err)
		}
		tags = append(tags, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return tags, nil
}

func (p *PostgresStorage) AddTag(ctx context.Context, name string) error {
	const op = "storage.AddTag"

	query := fmt.Sprintf("INSERT INTO %s(name) VALUES ($1)", tagsTable)
	if _, err := p.db.Exec(ctx, query, name); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%s: %w", op, ErrTagExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) Close() {
	p.db.Close()
}
