package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// Role is the closed set of authorized roles. The zero value RoleNone means
// unauthenticated and never authorizes anything.
type Role string

const (
	RoleNone        Role = ""
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleViewer, RoleContributor:
		return r, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleContributor
}

// Allows reports whether r grants at least the permissions of required.
func (r Role) Allows(required Role) bool {
	switch r {
	case RoleContributor:
		return required == RoleViewer || required == RoleContributor
	case RoleViewer:
		return required == RoleViewer
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// AuthToken is a one-time login token. Only the hash of the secret is stored.
type AuthToken struct {
	ID         uuid.UUID
	TokenHash  []byte
	Email      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

func (t AuthToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t AuthToken) Consumed() bool {
	return t.ConsumedAt != nil
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Game struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Owner            string    `json:"owner"`
	MinPlayers       int       `json:"min_players"`
	MaxPlayers       int       `json:"max_players"`
	Description      *string   `json:"description,omitempty"`
	Tags             []string  `json:"tags"`
	ImageURL         *string   `json:"image_url,omitempty"`
	BGGLink          *string   `json:"bgg_link,omitempty"`
	BGGRating        *float64  `json:"bgg_rating,omitempty"`
	ContributorEmail string    `json:"contributor_email"`
	CreatedAt        time.Time `json:"created_at"`
}

// GameQuery selects a page of games. An empty SortBy means newest first.
type GameQuery struct {
	SortBy string
	Tag    string
	Limit  int
	Offset int
}

// GameSortFields lists the columns a game list may be ordered by.
var GameSortFields = []string{"title", "owner", "min_players", "max_players", "bgg_rating", "created_at"}

type GamePage struct {
	Games  []Game `json:"games"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}
