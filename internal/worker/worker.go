package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/boothill-gm/internal/services/events"
	"github.com/jwebster45206/boothill-gm/internal/services/queue"
	queuePkg "github.com/jwebster45206/boothill-gm/pkg/queue"
)

const (
	workerTimeout  = 5 * time.Second
	defaultLockTTL = 30 * time.Second
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func lockKey(sessionID string) string {
	return fmt.Sprintf("session-lock:%s", sessionID)
}

// Worker processes requests from the decision queue
type Worker struct {
	id          string
	queue       *queue.DecisionQueue
	processor   *DecisionProcessor
	broadcaster *events.Broadcaster
	redisClient *redis.Client
	lockTTL     time.Duration
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new worker instance
func New(decisionQueue *queue.DecisionQueue, processor *DecisionProcessor, redisClient *redis.Client, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       decisionQueue,
		processor:   processor,
		broadcaster: events.NewBroadcaster(redisClient, log),
		redisClient: redisClient,
		lockTTL:     defaultLockTTL,
		log:         log.With("worker_id", workerID),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID returns the worker's identifier
func (w *Worker) ID() string {
	return w.id
}

// Start begins processing requests from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting")

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down")
			return nil
		default:
			if err := w.processNextRequest(); err != nil {
				if w.ctx.Err() != nil {
					continue
				}
				w.log.Error("Error processing request", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested")
	w.cancel()
}

// processNextRequest pulls the next request from the queue and processes it
func (w *Worker) processNextRequest() error {
	req, err := w.queue.BlockingDequeueRequest(w.ctx, workerTimeout)
	if err != nil {
		return fmt.Errorf("failed to dequeue request: %w", err)
	}
	if req == nil {
		return nil
	}

	log := w.log.With("request_id", req.RequestID, "type", req.Type, "session_id", req.SessionID)
	log.Info("Received request from queue")

	locked, err := w.acquireSessionLock(req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !locked {
		// Another worker has this session; try again later.
		log.Info("Session already locked, re-queueing request")
		return w.queue.Requeue(w.ctx, req)
	}
	defer w.holdSessionLock(req.SessionID)()

	return w.processRequest(req, log)
}

// acquireSessionLock returns true if the lock was acquired, false if it is
// already held
func (w *Worker) acquireSessionLock(sessionID string) (bool, error) {
	return w.redisClient.SetNX(w.ctx, lockKey(sessionID), w.id, w.lockTTL).Result()
}

// holdSessionLock keeps extending an acquired session lock while a request
// is processed, so a slow LLM call cannot outlive it. The returned func stops
// extending and releases the lock.
func (w *Worker) holdSessionLock(sessionID string) func() {
	ctx, cancel := context.WithCancel(w.ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := extendScript.Run(ctx, w.redisClient, []string{lockKey(sessionID)}, w.id, w.lockTTL.Milliseconds()).Int()
				if err != nil {
					if ctx.Err() == nil {
						w.log.Warn("Failed to extend session lock", "error", err, "session_id", sessionID)
					}
					continue
				}
				if held == 0 {
					w.log.Warn("Session lock lost", "session_id", sessionID)
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
		w.releaseSessionLock(sessionID)
	}
}

// releaseSessionLock releases the lock if this worker still owns it
func (w *Worker) releaseSessionLock(sessionID string) {
	// The worker context may already be cancelled during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, w.redisClient, []string{lockKey(sessionID)}, w.id).Err(); err != nil {
		w.log.Error("Failed to release session lock", "error", err, "session_id", sessionID)
	}
}

// processRequest runs a single request through the DecisionProcessor
func (w *Worker) processRequest(req *queuePkg.Request, log *slog.Logger) error {
	start := time.Now()

	switch req.Type {
	case queuePkg.RequestTypeDecision:
		latest, err := w.queue.LatestRequest(w.ctx, req.SessionID)
		if err != nil {
			log.Warn("Could not read latest request, checking session only", "error", err)
		}

		res, err := w.processor.GenerateDecision(w.ctx, req.SessionID, req.RequestedAt, latest)
		if err != nil {
			w.publishFailed(req, err)
			return fmt.Errorf("failed to generate decision: %w", err)
		}
		if res.Discarded() {
			if err := w.broadcaster.PublishDecisionDiscarded(w.ctx, req.SessionID, req.RequestID, res.Reason); err != nil {
				log.Error("Failed to publish discard event", "error", err)
			}
			return nil
		}
		if err := w.broadcaster.PublishDecisionPresented(w.ctx, req.SessionID, req.RequestID, res.Decision); err != nil {
			log.Error("Failed to publish decision event", "error", err)
		}

	case queuePkg.RequestTypeEvolve:
		_, changed, err := w.processor.Evolve(w.ctx, req.SessionID)
		if err != nil {
			w.publishFailed(req, err)
			return fmt.Errorf("failed to evolve session: %w", err)
		}
		if err := w.broadcaster.PublishSessionEvolved(w.ctx, req.SessionID, req.RequestID, changed); err != nil {
			log.Error("Failed to publish evolve event", "error", err)
		}

	default:
		return fmt.Errorf("unknown request type: %s", req.Type)
	}

	log.Info("Request processed successfully", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Worker) publishFailed(req *queuePkg.Request, err error) {
	if pubErr := w.broadcaster.PublishDecisionFailed(w.ctx, req.SessionID, req.RequestID, err.Error()); pubErr != nil {
		w.log.Error("Failed to publish failure event", "error", pubErr)
	}
}
