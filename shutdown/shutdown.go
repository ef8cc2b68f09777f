package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Shutdown phases for the navigator daemon. Lower phases stop first;
// handlers within a phase stop concurrently. Ingress goes down before
// the workers so no new submissions arrive while claims drain, and
// storage goes down last so every earlier phase can still flush state.
const (
	PhaseIngress   = 10 // HTTP API, SMS webhook
	PhaseWorkers   = 20 // transmit pool, ack poller, reaper, prober
	PhaseTelemetry = 30 // metrics collector, exporters, event stream
	PhaseStorage   = 40 // queue, bus, search index, database
)

// Handler is implemented by components that need graceful shutdown.
// The context is cancelled when the shutdown timeout is reached;
// handlers should stop accepting work, drain what they can, and leave
// claimed submissions for the reaper if time runs out.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// Result records one handler's shutdown outcome.
type Result struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Summary is the outcome of a full shutdown pass.
type Summary struct {
	TotalDuration time.Duration
	Results       []Result
	Err           error
}

// FailedHandlers returns the names of handlers that returned an error.
func (s *Summary) FailedHandlers() []string {
	var failed []string
	for _, r := range s.Results {
		if r.Err != nil {
			failed = append(failed, r.Name)
		}
	}
	return failed
}

// Config configures the shutdown coordinator.
type Config struct {
	// Timeout bounds the whole shutdown pass. Default: 30s.
	Timeout time.Duration

	// OnProgress is called as each handler finishes, for logging.
	OnProgress func(Result)
}

// DefaultTimeout bounds shutdown when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

type registration struct {
	name    string
	handler Handler
	phase   int
}
