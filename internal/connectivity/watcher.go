// Package connectivity decides whether the task API is reachable and tells
// the sync store when that changes.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"
)

// Probe checks the backend once. A nil error means online.
type Probe func(ctx context.Context) error

// Target receives connectivity changes.
type Target interface {
	Online() bool
	SetOnline(ctx context.Context, online bool) error
}

type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Logger       *log.Logger
}

type Watcher struct {
	probe    Probe
	target   Target
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu        sync.Mutex
	lastCheck time.Time
	lastErr   error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWatcher(probe Probe, target Target, config Config) *Watcher {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		probe:    probe,
		target:   target,
		interval: config.Interval,
		timeout:  config.ProbeTimeout,
		logger:   config.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start probes once right away, then every interval until Stop.
func (w *Watcher) Start() {
	w.logger.Printf("[connectivity] watching every %v", w.interval)

	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
	w.logger.Println("[connectivity] stopped")
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(w.ctx)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.Check(w.ctx)
		}
	}
}

// Check runs one probe and forwards a changed result to the target. It
// reports whether the backend answered.
func (w *Watcher) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.probe(probeCtx)
	cancel()

	w.mu.Lock()
	w.lastCheck = time.Now()
	w.lastErr = err
	w.mu.Unlock()

	online := err == nil
	if online == w.target.Online() {
		return online
	}
	if !online {
		w.logger.Printf("[connectivity] backend unreachable: %v", err)
	}
	if err := w.target.SetOnline(ctx, online); err != nil {
		w.logger.Printf("[connectivity] sync after reconnect failed: %v", err)
	}
	return online
}

// LastCheck returns when the last probe ran and what it returned.
func (w *Watcher) LastCheck() (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCheck, w.lastErr
}
