package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edutend/internal/attendance"
	"edutend/internal/broadcast"
	"edutend/internal/config"
	"edutend/internal/store"
)

// Worker periodically flips overdue Active sessions to Expired so stored
// state matches reality for reporting. Scan validation and listing re-check
// expiry themselves; this sweep is bookkeeping, not correctness.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var bus broadcast.Bus
	if cfg.BroadcastBackend == "memory" {
		bus = broadcast.NewInMemory(64)
	} else {
		bus = broadcast.NewRedisBus(redisClient.Client, cfg.BroadcastChannel)
	}

	repo := attendance.NewRepository(db.Client)

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("sweep worker started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("sweep worker stopped")
			return
		case <-ticker.C:
			sessions, err := repo.ExpireDue(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			for _, sess := range sessions {
				log.Printf("session %s expired (course %s, %d scans)", sess.ID, sess.CourseID, sess.ScanCount)
				if err := bus.Publish(ctx, broadcast.Event{
					Name:      broadcast.SessionExpired,
					SessionID: sess.ID,
					CourseID:  sess.CourseID,
					At:        time.Now().UTC(),
				}); err != nil {
					log.Printf("broadcast session-expired failed: %v", err)
				}
			}
		}
	}
}
