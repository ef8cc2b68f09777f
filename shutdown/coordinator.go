package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Coordinator runs registered handlers in phase order when the daemon
// stops, either on demand or on SIGTERM/SIGINT.
type Coordinator struct {
	config Config

	mu       sync.Mutex
	handlers []registration

	once    sync.Once
	err     error
	summary *Summary
	done    chan struct{}
	signals chan os.Signal
	started time.Time
}

// NewCoordinator creates a coordinator. A zero Config gets the default
// timeout.
func NewCoordinator(config Config) *Coordinator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Coordinator{
		config:  config,
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a handler to the given phase.
func (c *Coordinator) Register(name string, phase int, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc registers a plain function as a handler.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, HandlerFunc(fn))
}

// Shutdown runs every registered handler, phase by phase. A second call
// returns the first call's result once it completes, ErrAlreadyShutdown
// while it is still running.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.started = time.Now()
		c.err = c.run(ctx)
		close(c.done)
	})

	select {
	case <-c.done:
		return c.err
	default:
		return ErrAlreadyShutdown
	}
}

// ShutdownWithTimeout runs Shutdown bounded by the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.signals
		_ = c.ShutdownWithTimeout()
	}()
}

// Trigger injects a SIGTERM, for tests and admin-initiated stops.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err reports the shutdown error. Nil until Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Summary reports per-handler results. Nil until Done is closed.
func (c *Coordinator) Summary() *Summary {
	select {
	case <-c.done:
		return c.summary
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	summary := &Summary{Results: make([]Result, 0, len(handlers))}
	var overall error

	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			summary.Err = ErrTimeout
			summary.TotalDuration = time.Since(c.started)
			c.summary = summary
			return ErrTimeout
		default:
		}

		for _, r := range c.runPhase(ctx, handlers[start:end]) {
			summary.Results = append(summary.Results, r)
			if r.Err != nil && overall == nil {
				overall = ErrHandlerFailed
			}
		}
		start = end
	}

	summary.Err = overall
	summary.TotalDuration = time.Since(c.started)
	c.summary = summary
	return overall
}

// runPhase stops all handlers in one phase concurrently.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) []Result {
	results := make([]Result, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.handler.OnShutdown(ctx)

			res := Result{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = res

			if c.config.OnProgress != nil {
				c.config.OnProgress(res)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}
