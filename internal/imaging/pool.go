package imaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/partsmarket/backend/internal/logging"
)

var (
	// ErrPoolClosed is returned when a task is submitted after Shutdown.
	ErrPoolClosed = errors.New("image worker pool closed")
	// ErrDuplicateTask is returned when a task ID is already in flight.
	ErrDuplicateTask = errors.New("image task id already in flight")
)

// Task is the message posted to a compression worker. MaxBytes > 0 selects
// the iterative size-ceiling policy instead of the single-pass one.
type Task struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	ContentType string  `json:"contentType,omitempty"`
	File        []byte  `json:"file"`
	MaxSide     int     `json:"maxSide"`
	Quality     float64 `json:"quality"`
	Format      Format  `json:"format"`
	MaxBytes    int     `json:"maxBytes,omitempty"`
}

// Response is the message a worker sends back, correlated by ID.
type Response struct {
	ID             string    `json:"id"`
	OK             bool      `json:"ok"`
	Blob           []byte    `json:"blob,omitempty"`
	ContentType    string    `json:"contentType,omitempty"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	OriginalSize   int       `json:"originalSize"`
	CompressedSize int       `json:"compressedSize,omitempty"`
	Format         Format    `json:"format,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	Code           ErrorCode `json:"code,omitempty"`
	Message        string    `json:"message,omitempty"`
}

// Sized reports whether the task asks for the byte-ceiling policy.
func (t Task) Sized() bool {
	return t.MaxBytes > 0
}

func (t Task) source() Source {
	return Source{Name: t.Name, ContentType: t.ContentType, Data: t.File}
}

// NewResponse converts a compression result into a worker response.
func NewResponse(id string, res Result) Response {
	resp := Response{
		ID:             id,
		OK:             res.OK,
		Blob:           res.Data,
		Width:          res.Width,
		Height:         res.Height,
		OriginalSize:   res.OriginalSize,
		CompressedSize: res.CompressedSize,
		Format:         res.Format,
		Attempts:       res.Attempts,
		Code:           res.Code,
		Message:        res.Message,
	}
	if res.OK {
		resp.ContentType = res.Format.ContentType()
	}
	return resp
}

// Run executes task synchronously on the calling goroutine.
func (c *Compressor) Run(ctx context.Context, task Task) Response {
	if task.Sized() {
		res := c.CompressToSize(ctx, task.source(), SizedOptions{
			MaxSide:        task.MaxSide,
			MaxBytes:       task.MaxBytes,
			InitialQuality: task.Quality,
			Format:         task.Format,
		})
		return NewResponse(task.ID, res)
	}
	res := c.Compress(ctx, task.source(), Options{MaxSide: task.MaxSide, Quality: task.Quality, Format: task.Format})
	return NewResponse(task.ID, res)
}

// PoolConfig controls the concurrency characteristics of the pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// Pool runs compression tasks on dedicated worker goroutines. Each worker
// handles one task at a time; a started task always runs to completion.
type Pool struct {
	compressor *Compressor
	logger     *slog.Logger

	jobs chan poolJob
	done chan struct{}

	mu      sync.RWMutex
	closed  bool
	senders sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]struct{}

	wg sync.WaitGroup
}

type poolJob struct {
	task  Task
	reply chan Response
}

// NewPool starts cfg.Workers goroutines that compress with compressor.
func NewPool(compressor *Compressor, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	p := newIdlePool(compressor, cfg.QueueSize, logger)
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

func newIdlePool(compressor *Compressor, queueSize int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		compressor: compressor,
		logger:     logger,
		jobs:       make(chan poolJob, queueSize),
		done:       make(chan struct{}),
		pending:    make(map[string]struct{}),
	}
}

// Submit posts task and returns a channel that receives exactly one response
// carrying the task ID. An empty ID is replaced with a fresh UUID.
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan Response, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p.senders.Add(1)
	p.mu.RUnlock()
	defer p.senders.Done()

	if err := p.track(task.ID); err != nil {
		return nil, err
	}

	// jobs stays open until every registered sender has returned.
	job := poolJob{task: task, reply: make(chan Response, 1)}
	select {
	case <-ctx.Done():
		p.release(task.ID)
		return nil, ctx.Err()
	case <-p.done:
		p.release(task.ID)
		return nil, ErrPoolClosed
	case p.jobs <- job:
		return job.reply, nil
	}
}

// Do submits task and waits for its response. When ctx ends first the late
// response is discarded; the worker still finishes the task.
func (p *Pool) Do(ctx context.Context, task Task) (Response, error) {
	reply, err := p.Submit(ctx, task)
	if err != nil {
		return Response{}, err
	}
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case resp := <-reply:
		return resp, nil
	}
}

// Shutdown stops accepting tasks and waits for queued ones to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	first := !p.closed
	if first {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	if first {
		p.senders.Wait()
		close(p.jobs)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		resp := p.handle(job.task)
		p.release(job.task.ID)
		job.reply <- resp
	}
}

func (p *Pool) handle(task Task) Response {
	ctx := logging.WithLogger(context.Background(), p.logger.With(slog.String("task_id", task.ID)))
	ctx, span := logging.StartSpan(ctx, "image.compress")
	defer span.End()

	return p.compressor.Run(ctx, task)
}

func (p *Pool) track(id string) error {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if _, ok := p.pending[id]; ok {
		return ErrDuplicateTask
	}
	p.pending[id] = struct{}{}
	return nil
}

func (p *Pool) release(id string) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}
