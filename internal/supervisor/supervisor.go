// Package supervisor owns the event loop: it wires the bus, both
// devices, the poll loop, and the command router, then runs until
// SIGTERM/SIGINT or a "quit" command, tearing components down in a
// fixed order. Grounded on the halt/haltOnce shutdown pattern used by
// long-running daemons in this shape.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/metacash/ssp6d/internal/bus"
	"github.com/metacash/ssp6d/internal/device"
	"github.com/metacash/ssp6d/internal/pollloop"
	"github.com/metacash/ssp6d/internal/router"
)

// Config gathers the wired dependencies a Supervisor runs.
type Config struct {
	Bus       *bus.Bus
	Hopper    *device.Device
	Validator *device.Device
	Log       *slog.Logger
}

// Supervisor owns the daemon's main loop and shutdown sequence.
type Supervisor struct {
	cfg      Config
	router   *router.Router
	poll     *pollloop.Loop
	cancel   context.CancelFunc
	haltOnce sync.Once

	mu       sync.Mutex
	exitCode int
}

// New wires the router and poll loop over cfg's devices and bus.
func New(cfg Config) *Supervisor {
	s := &Supervisor{cfg: cfg}

	s.router = &router.Router{
		Hopper:    cfg.Hopper,
		Validator: cfg.Validator,
		Bus:       cfg.Bus,
		Log:       cfg.Log,
		Quit:      s.Shutdown,
	}
	s.poll = &pollloop.Loop{
		Hopper:    cfg.Hopper,
		Validator: cfg.Validator,
		Bus:       cfg.Bus,
		Log:       cfg.Log,
		OnFatal:   s.fatal,
	}
	return s
}

// fatal escalates an unrecoverable post-RESET host_protocol failure:
// it marks exit code 3 (§6) and triggers shutdown.
func (s *Supervisor) fatal(err error) {
	s.cfg.Log.Error("unrecoverable error, exiting", "error", err)
	s.mu.Lock()
	s.exitCode = 3
	s.mu.Unlock()
	s.Shutdown()
}

// Run blocks until shutdown, handling SIGTERM/SIGINT and bus messages.
// It returns the process exit code (§6: 0 clean, 3 after an unrecoverable
// post-RESET host_protocol failure).
func (s *Supervisor) Run() int {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go s.poll.Run(ctx)

	messages := s.cfg.Bus.Messages()
	s.cfg.Log.Info("ssp6d ready")

	for {
		select {
		case <-ctx.Done():
			s.halt()
			s.mu.Lock()
			code := s.exitCode
			s.mu.Unlock()
			return code
		case sig := <-sigCh:
			s.cfg.Log.Info("signal received, shutting down", "signal", sig)
			s.Shutdown()
		case msg, open := <-messages:
			if !open {
				s.cfg.Log.Error("bus subscription closed unexpectedly")
				s.Shutdown()
				continue
			}
			s.router.Dispatch(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// Shutdown requests an orderly exit of the event loop; safe to call
// more than once or concurrently.
func (s *Supervisor) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Supervisor) halt() {
	s.haltOnce.Do(func() {
		s.cfg.Log.Info("starting graceful shutdown")
		if s.cfg.Bus != nil {
			if err := s.cfg.Bus.Close(); err != nil {
				s.cfg.Log.Error("bus close failed", "error", err)
			}
		}
	})
}
