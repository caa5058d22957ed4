package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/ethscore/internal/domain"
)

const (
	// Registry writes are rare (one per imported artifact), so a writer can
	// afford to wait out a concurrent import instead of failing with SQLITE_BUSY.
	sqliteBusyTimeout = 15 * time.Second

	connectTimeout = 10 * time.Second
)

// dataSource maps the repository config onto a database/sql driver name and DSN.
func dataSource(cfg domain.RepositoryConfig) (driverName, dsn string, err error) {
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "./ethscore.db"
		}

		q := url.Values{}
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeout.Milliseconds()))
		// SaveArtifact checks then inserts; take the write lock up front.
		q.Set("_txlock", "immediate")
		return "sqlite", "file:" + path + "?" + q.Encode(), nil

	case "postgres":
		host := cfg.PostgresHost
		if host == "" {
			host = "localhost"
		}
		port := cfg.PostgresPort
		if port == 0 {
			port = 5432
		}
		dbname := cfg.PostgresDB
		if dbname == "" {
			dbname = "ethscore"
		}
		sslmode := cfg.PostgresSSLMode
		if sslmode == "" {
			sslmode = "disable"
		}

		q := url.Values{}
		q.Set("sslmode", sslmode)
		q.Set("application_name", "ethscore")
		q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))

		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword),
			Host:     fmt.Sprintf("%s:%d", host, port),
			Path:     "/" + dbname,
			RawQuery: q.Encode(),
		}
		return "postgres", u.String(), nil

	default:
		return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

// open connects to the configured registry database and verifies it.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	driverName, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		if dir := filepath.Dir(cfg.SQLitePath); cfg.SQLitePath != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	return db, nil
}
