package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"

	"github.com/Seif4646/MysteryMansion/internal/database"
)

type Server struct {
	port  int
	debug bool

	db          database.Service
	registry    *ConnectionRegistry
	roomIndex   *RoomIndex
	store       *Store
	persistence *PersistenceManager

	rateLimiter      *RateLimiter
	connectionHealth *ConnectionHealth

	// dispatchMu serializes handler bodies (including disconnects) so
	// registry, index and store always change together.
	dispatchMu sync.Mutex

	stopTasks chan struct{}
}

func NewServer() (*Server, *http.Server) {
	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 8080
	}
	debug := os.Getenv("GAME_DEBUG") == "true"
	if debug {
		log.Warn("debug mode enabled: get_solution is open to registered players")
	}

	dbService := database.New()

	if err := runMigrations(dbService.DB()); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	persistence := NewPersistenceManager(dbService.DB())
	store := NewStore()

	if err := persistence.RestoreInto(store); err != nil {
		// Start empty rather than refuse to start.
		log.Warnf("failed to restore persisted state: %v", err)
	}

	s := &Server{
		port:             port,
		debug:            debug,
		db:               dbService,
		registry:         NewConnectionRegistry(),
		roomIndex:        NewRoomIndex(),
		store:            store,
		persistence:      persistence,
		rateLimiter:      NewRateLimiter(20, time.Second),
		connectionHealth: NewConnectionHealth(),
		stopTasks:        make(chan struct{}),
	}

	go s.periodicSaveTask()
	go s.cleanupTask()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer
}

func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "./db/migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info("database migrations applied")
	return nil
}

// periodicSaveTask snapshots all rooms and players every 30 seconds to
// catch changes between event-driven saves.
func (s *Server) periodicSaveTask() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			saved, err := s.persistence.SaveAll(s.store)
			if err != nil {
				log.Warnf("periodic save failed: %v", err)
				continue
			}
			log.Debugf("periodic save completed: %d rooms persisted", saved)
		case <-s.stopTasks:
			return
		}
	}
}

// cleanupTask removes ended rooms older than 24 hours from both postgres
// and the in-memory store. The day of grace lets players review the ending
// before the room disappears.
func (s *Server) cleanupTask() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := s.persistence.CleanupOldRooms(24 * time.Hour)
			if err != nil {
				log.Warnf("cleanup task failed: %v", err)
				continue
			}

			s.dispatchMu.Lock()
			s.evictEndedRooms(24 * time.Hour)
			s.dispatchMu.Unlock()

			if deleted > 0 {
				log.Infof("cleanup task: deleted %d old ended rooms", deleted)
			}
		case <-s.stopTasks:
			return
		}
	}
}

func (s *Server) evictEndedRooms(olderThan time.Duration) {
	cutoff := time.Now().Add(-olderThan)

	var stale []int64
	s.store.mu.RLock()
	for id, room := range s.store.rooms {
		if room.Status == StatusEnded && room.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.store.mu.RUnlock()

	for _, id := range stale {
		s.store.DeleteRoom(id)
	}
}

// Shutdown saves everything, tells connected clients the server is going
// away and closes their sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopTasks)

	if s.persistence != nil {
		saved, err := s.persistence.SaveAll(s.store)
		if err != nil {
			log.Warnf("shutdown save failed after %d rooms: %v", saved, err)
		} else {
			log.Infof("shutdown save completed: %d rooms persisted", saved)
		}
	}

	for _, conn := range s.registry.All() {
		s.sendMessage(conn.Socket, ctx, ServerMessage{
			Type:    "server_shutdown",
			Payload: ServerShutdownMessage{Message: "Server is shutting down"},
		})
		conn.Socket.Close(websocket.StatusGoingAway, "Server shutting down")
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
