package postgres

import (
	"context"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

type Config struct {
	Host     string `envconfig:"DB_HOST"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// Configured reports whether a remote endpoint is set. An empty host
// puts the service into local-only mode.
func (c Config) Configured() bool {
	return c.Host != ""
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// NewPostgresDB connects and applies embedded goose migrations.
func NewPostgresDB(ctx context.Context, cfg *Config, migrations fs.FS) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.dsn())
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := goose.Up(db.DB, "."); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "goose up")
	}
	return db, nil
}
