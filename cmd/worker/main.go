package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bioattend/internal/attendance"
	"bioattend/internal/config"
	"bioattend/internal/faceclient"
	"bioattend/internal/queue"
	"bioattend/internal/store"
)

// Worker consumes mark messages, runs the liveness check against the stored
// check-in photo, and writes the result back onto the mark.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("schema migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "bioattend:marks")
	}

	marks := attendance.NewRepository(db.Pool)
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
			log.Println("worker will retry liveness processing when marks arrive")
		} else {
			log.Println("face service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeMark {
			continue
		}

		id := string(msg.Body)
		log.Printf("processing mark %s", id)

		mark, err := marks.GetByID(ctx, id)
		if err != nil {
			log.Printf("fetch mark %s failed: %v", id, err)
			continue
		}
		if mark.PhotoURL == "" {
			log.Printf("mark %s has no stored photo, skipping liveness", id)
			continue
		}

		result, err := face.Liveness(ctx, mark.PhotoURL)
		if err != nil {
			log.Printf("liveness check failed for %s: %v", id, err)
			continue
		}

		payload, err := json.Marshal(result)
		if err != nil {
			log.Printf("liveness encode failed for %s: %v", id, err)
			continue
		}
		if err := marks.UpdateLiveness(ctx, id, payload); err != nil {
			log.Printf("liveness update failed for %s: %v", id, err)
			continue
		}
		log.Printf("mark %s: liveness %.2f (live=%v)", id, result.Confidence, result.IsLive)

		time.Sleep(10 * time.Millisecond) // Small delay between processing
	}

	log.Println("worker stopped")
}
