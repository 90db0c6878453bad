package repo

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type Conn struct {
	conn *sql.DB
	path string
}

func (conn *Conn) DB() *sql.DB {
	return conn.conn
}

// NewDatabase connects to postgres with retries and runs embedded migrations
// unless migrate[0] is false.
func NewDatabase(path string, logger *zap.Logger, migrate ...bool) (*Conn, error) {
	db, err := retryConn(3, 10*time.Second, logger, func() (*sql.DB, error) {
		logger.Info("connecting to postgres")
		conn, err := sql.Open("postgres", path)
		if err != nil {
			return nil, err
		}
		return conn, conn.Ping()
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")
	st := &Conn{
		conn: db,
		path: path,
	}
	if len(migrate) == 0 || migrate[0] {
		if err := migrateDB(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return st, nil
}

func (conn *Conn) Close() error {
	return conn.conn.Close()
}

func migrateDB(conn *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.Up(conn, "migrations")
}

func retryConn(attempts int, sleep time.Duration, logger *zap.Logger, callback func() (*sql.DB, error)) (*sql.DB, error) {
	for i := 0; i <= attempts; i++ {
		conn, err := callback()
		if err == nil {
			return conn, nil
		}
		logger.Warn("error connecting, retrying", zap.Error(err))
		time.Sleep(sleep)
	}
	return nil, fmt.Errorf("after %d attempts, connection failed", attempts)
}
