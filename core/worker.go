package core

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"argus/metrics"
	"argus/util/goroutine"
	"go.uber.org/zap"
)

// WorkerPool provides a generic worker pool for parallel task processing.
// The pipeline runs two of these: a small "fast" pool with a short submit
// timeout for high-priority events and a larger "standard" pool for the
// rest. Work that cannot be queued within the submit timeout is dropped by
// the caller; the pool never blocks ingress indefinitely.
type WorkerPool struct {
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
	poolType  string // For metrics identification
}

// NewWorkerPool creates a new worker pool with default context
func NewWorkerPool(workers int, queueSize int, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), workers, queueSize, "default", logger)
}

// NewWorkerPoolWithType creates a new worker pool with a specific type for metrics
func NewWorkerPoolWithType(workers int, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), workers, queueSize, poolType, logger)
}

// NewWorkerPoolWithContext creates a new worker pool with a parent context
// for lifecycle management. Workers are not started until Start() is
// called; cancelling the parent context stops workers the same way Stop()
// does, minus the completion wait.
func NewWorkerPoolWithContext(parentCtx context.Context, workers int, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	if poolType == "" {
		poolType = "default"
	}
	// Basic validation for poolType (alphanumeric, underscore, dash)
	if matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, poolType); !matched {
		logger.Warnw("Invalid poolType, using default", "poolType", poolType)
		poolType = "default"
	}

	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		running:   false,
		poolType:  poolType,
	}
}

// Start begins processing tasks with the worker pool
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return nil // Already running
	}

	wp.running = true
	wp.logger.Infof("Starting worker pool with %d workers and queue size %d", wp.workers, wp.queueSize)

	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	return nil
}

// Stop gracefully shuts down the worker pool. Queued tasks are drained;
// if workers do not finish within 30s their goroutines are abandoned so
// shutdown cannot deadlock.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		return
	}

	wp.running = false
	wp.logger.Infow("Stopping worker pool", "pool_type", wp.poolType, "workers", wp.workers)

	// Close task channel to prevent new tasks; workers drain the remainder
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		wp.logger.Infow("Worker pool stopped successfully", "pool_type", wp.poolType)
	case <-time.After(30 * time.Second):
		wp.cancel()
		wp.logger.Errorw("Worker pool shutdown timed out - goroutines leaked",
			"pool_type", wp.poolType,
			"workers", wp.workers,
			"timeout_seconds", 30)
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(-1)
	}
}

// Submit adds a task to the worker pool queue without blocking
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// SubmitWithTimeout adds a task, waiting up to timeout for queue space
func (wp *WorkerPool) SubmitWithTimeout(task func(), timeout time.Duration) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	case <-ctx.Done():
		return ErrWorkerPoolTimeout
	}
}

// QueueDepth returns the number of tasks currently waiting in the queue
func (wp *WorkerPool) QueueDepth() int {
	return len(wp.taskCh)
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Workers:     wp.workers,
		QueueSize:   wp.queueSize,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
		Capacity:    cap(wp.taskCh),
	}
}

// worker is the main worker goroutine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool", wp.logger)

	wp.logger.Debugw("Worker started", "worker_id", id)

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debugw("Worker stopping due to context cancellation", "worker_id", id)
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				wp.logger.Debugw("Worker stopping due to closed channel", "worker_id", id)
				return
			}

			// Execute task with panic recovery
			func() {
				defer func() {
					if r := recover(); r != nil {
						wp.logger.Errorw("Task panicked in worker",
							"worker_id", id,
							"panic", r)
					}
				}()
				task()
				metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolType).Inc()
			}()
		}
	}
}

// WorkerPoolStats contains statistics about the worker pool
type WorkerPoolStats struct {
	Workers     int  `json:"workers"`
	QueueSize   int  `json:"queue_size"`
	Running     bool `json:"running"`
	QueuedTasks int  `json:"queued_tasks"`
	Capacity    int  `json:"capacity"`
}

// Errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
	ErrWorkerPoolTimeout    = errors.New("worker pool task submission timed out")
)
