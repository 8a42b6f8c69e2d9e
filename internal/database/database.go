// Package database wraps the postgres connection used for room snapshots.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
	log "github.com/sirupsen/logrus"
)

// Service exposes the shared database handle plus a health snapshot for
// the /health endpoint.
type Service interface {
	Health() map[string]string
	DB() *sql.DB
	Close() error
}

type service struct {
	db *sql.DB
}

var (
	dbname   = os.Getenv("MANSION_DB_DATABASE")
	password = os.Getenv("MANSION_DB_PASSWORD")
	username = os.Getenv("MANSION_DB_USERNAME")
	port     = os.Getenv("MANSION_DB_PORT")
	host     = os.Getenv("MANSION_DB_HOST")
)

func New() Service {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			username, password, host, port, dbname)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	return &service{db: db}
}

// NewFromDB wraps an existing handle; used by tests that bring their own
// container database.
func NewFromDB(db *sql.DB) Service {
	return &service{db: db}
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	dbStats := s.db.Stats()
	stats["status"] = "up"
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)

	return stats
}

func (s *service) DB() *sql.DB {
	return s.db
}

func (s *service) Close() error {
	log.Info("database connection closed")
	return s.db.Close()
}
