package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory resolves participants from the shared users table owned
// by the identity service. Read-only; the messaging core never writes user
// rows.
//
// Lookups are best-effort: any error degrades to a miss so a directory
// outage never fails a conversation read.
type PostgresDirectory struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresDirectory constructs a directory over a borrowed pool. The
// schema is validated and safely quoted, same rules as the stores.
func NewPostgresDirectory(log *slog.Logger, pool *pgxpool.Pool, schema string) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "shelfswap"
	}
	if !isValidPGIdent(schema) {
		return nil, errors.New("messaging: invalid schema identifier")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresDirectory{log: log, pool: pool, schema: schema}, nil
}

// Lookup returns the user profile for userID, or a miss.
func (d *PostgresDirectory) Lookup(ctx context.Context, userID string) (User, bool) {
	if d == nil || d.pool == nil {
		return User{}, false
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, false
	}

	users := pgIdent(d.schema, "users")

	var u User
	err := d.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email FROM `+users+` WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			d.log.Warn("directory.lookup.fail", "user_id", userID, "err", err)
		}
		return User{}, false
	}
	return u, true
}
