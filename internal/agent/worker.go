package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Worker consumes chat jobs from the queue and invokes the service.
type Worker struct {
	processor Service
	queue     queueClient
	jobs      JobUpdater
	metrics   *metrics.AgentMetrics
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	metrics          *metrics.AgentMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithWorkerMetrics wires job and queue latency counters.
func WithWorkerMetrics(m *metrics.AgentMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker builds a queue consumer for chat jobs.
func NewWorker(processor Service, queue queueClient, jobs JobUpdater, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("agent: processor cannot be nil")
	}
	if queue == nil {
		panic("agent: queue cannot be nil")
	}
	if jobs == nil {
		panic("agent: job store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor: processor,
		queue:     queue,
		jobs:      jobs,
		metrics:   cfg.metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("chat worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("chat worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive chat jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode chat job", "error", err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if payload.Kind != jobTypeChat {
		w.logger.Warn("skipping unknown job kind", "kind", payload.Kind, "job_id", payload.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if !payload.EnqueuedAt.IsZero() {
		w.metrics.ObserveQueueLatency("agent_chat", time.Since(payload.EnqueuedAt).Seconds())
	}

	w.logger.Info("worker processing chat job",
		"job_id", payload.ID,
		"session_id", payload.Chat.SessionID,
		"msg_id", msg.ID,
	)

	reply, err := w.processor.Chat(ctx, payload.Chat)
	if err != nil {
		w.logger.Error("chat job failed", "error", err, "job_id", payload.ID)
		w.metrics.ObserveJob("failed")
		if payload.TrackStatus {
			if storeErr := w.jobs.MarkFailed(ctx, payload.ID, err.Error()); storeErr != nil {
				w.logger.Error("failed to update job status", "error", storeErr, "job_id", payload.ID)
			}
		}
		// Leave transient failures on the queue for redelivery.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	w.metrics.ObserveJob("completed")
	if payload.TrackStatus {
		if storeErr := w.jobs.MarkCompleted(ctx, payload.ID, reply); storeErr != nil {
			w.logger.Error("failed to update job status", "error", storeErr, "job_id", payload.ID)
		}
	}

	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete chat job from queue", "error", err)
	}
}
