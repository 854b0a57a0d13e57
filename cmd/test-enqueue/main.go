package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jwebster45206/boothill-gm/internal/services/queue"
	queuePkg "github.com/jwebster45206/boothill-gm/pkg/queue"
)

func main() {
	redisURL := flag.String("redis", "redis://localhost:6379", "redis URL")
	sessionID := flag.String("session", "", "session to enqueue work for")
	evolve := flag.Bool("evolve", false, "enqueue an evolve request instead of a decision request")
	flag.Parse()

	if *sessionID == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -session <id> [-evolve] [-redis url]\n", os.Args[0])
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := queue.NewClient(ctx, *redisURL, logger)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer client.Close()

	fmt.Println("Connected to Redis successfully!")

	q := queue.NewDecisionQueue(client)

	reqType := queuePkg.RequestTypeDecision
	if *evolve {
		reqType = queuePkg.RequestTypeEvolve
	}
	req := queuePkg.NewRequest(reqType, *sessionID, time.Now())
	if err := q.EnqueueRequest(ctx, req); err != nil {
		log.Fatal("Failed to enqueue request:", err)
	}
	fmt.Printf("Enqueued %s request %s for session %s\n", req.Type, req.RequestID, req.SessionID)

	depth, err := q.RequestQueueDepth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}
	fmt.Printf("Queue depth: %d requests\n", depth)
	fmt.Println("Start the worker to process them: go run ./cmd/worker")
}
