// SPDX-License-Identifier: MIT

// Package ffmpeg supervises one external encoder process per derivation:
// spawn, parse its progress/log streams into typed events, and guarantee the
// process group is signalled when the supervisor is torn down.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/cubhouse/mom/internal/encodegate"
	"github.com/cubhouse/mom/internal/log"
	"github.com/cubhouse/mom/internal/procgroup"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mom_encoder_start_total",
		Help: "Total encoder process starts",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mom_encoder_exit_total",
		Help: "Total encoder process exits",
	}, []string{"reason"})
)

// ErrStreamDone is returned by Next once the event stream has delivered its
// terminal event. The stream is finite and cannot be replayed.
var ErrStreamDone = errors.New("encoder event stream exhausted")

// DefaultGrace is the SIGTERM→SIGKILL escalation window.
const DefaultGrace = 5 * time.Second

// eventBuffer bounds the bridge between the blocking pipe readers and the
// async consumer.
const eventBuffer = 64

// Config describes one encode run.
type Config struct {
	BinPath    string // encoder binary, default "ffmpeg"
	InputPath  string
	OutputPath string
	Target     Target
	Grace      time.Duration // SIGTERM→SIGKILL window, default DefaultGrace

	// Args replaces the generated argument list. Nil means the list is built
	// from Target; tests use it to run shell stand-ins for the encoder.
	Args []string
}

// Supervisor owns one running encoder process and its event stream. The
// encode permit passed at Start is released exactly once, on teardown.
type Supervisor struct {
	cfg    Config
	cmd    *exec.Cmd
	permit *encodegate.Permit
	ring   *LineRing

	events chan Event
	stop   chan struct{} // closed by Close; unblocks emit
	exited chan struct{} // closed when the process has been reaped

	mu       sync.Mutex
	props    *MediaProps
	fatalMsg string

	closeOnce sync.Once
	started   time.Time
}

// Start validates the target, spawns the encoder and begins parsing its
// output. Ownership of permit transfers to the supervisor on success; on
// spawn failure the permit is released before returning.
func Start(ctx context.Context, cfg Config, permit *encodegate.Permit) (*Supervisor, error) {
	args := cfg.Args
	if args == nil {
		var err error
		args, err = BuildArgs(cfg.InputPath, primaryOutput(cfg), cfg.Target)
		if err != nil {
			permit.Release()
			return nil, err
		}
	}

	bin := cfg.BinPath
	if bin == "" {
		bin = "ffmpeg"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}

	s := &Supervisor{
		cfg:    cfg,
		permit: permit,
		ring:   NewLineRing(256),
		events: make(chan Event, eventBuffer),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	cmd := exec.Command(bin, args...) // #nosec G204 -- args are built, not caller-supplied
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		permit.Release()
		return nil, fmt.Errorf("capture encoder stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		permit.Release()
		return nil, fmt.Errorf("capture encoder stderr: %w", err)
	}

	logger := log.WithComponentFromContext(ctx, "encoder")
	logger.Info().Str("command", cmd.String()).Msg("starting encoder process")

	if err := cmd.Start(); err != nil {
		permit.Release()
		startTotal.WithLabelValues("spawn_error").Inc()
		return nil, fmt.Errorf("encoder start failed: %w", err)
	}
	startTotal.WithLabelValues("ok").Inc()

	s.cmd = cmd
	s.started = time.Now()

	// The pipe readers do blocking reads and therefore run on their own
	// goroutines, bridged to the consumer over the bounded events channel.
	var ioWg sync.WaitGroup
	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		parseProgress(stdout, func(p Progress) {
			s.mu.Lock()
			if s.props != nil {
				p.Total = s.props.Duration
			}
			s.mu.Unlock()
			s.emit(p)
		})
	}()
	go func() {
		defer ioWg.Done()
		s.consumeStderr(stderr)
	}()

	go s.finish(&ioWg, logger)

	return s, nil
}

// primaryOutput is where the external encoder writes. Postprocessed targets
// go through a PNG intermediate next to the final path.
func primaryOutput(cfg Config) string {
	if cfg.Target.needsPostprocess() {
		return cfg.OutputPath + ".intermediate.png"
	}
	return cfg.OutputPath
}

// Next returns the next event. The stream is strictly ordered as emitted by
// the process, finite, and not restartable: after the terminal Done or
// Failed event it returns ErrStreamDone forever.
func (s *Supervisor) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, ErrStreamDone
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LastLogLines returns up to n retained encoder log lines for diagnostics.
func (s *Supervisor) LastLogLines(n int) []string {
	return s.ring.LastN(n)
}

// Close tears the supervisor down: if the process is still running it is
// sent SIGTERM, escalating to SIGKILL after the grace window. Termination is
// best-effort: the signal is sent, death is not awaited beyond the grace.
// The encode permit is released exactly once. Safe to call multiple times
// and mandatory on every exit path (callers hold it in a defer).
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)

		select {
		case <-s.exited:
			// Already reaped, nothing to signal.
		default:
			_ = procgroup.Signal(s.cmd, syscall.SIGTERM)
			select {
			case <-s.exited:
			case <-time.After(s.cfg.Grace):
				_ = procgroup.Signal(s.cmd, syscall.SIGKILL)
			}
		}

		s.permit.Release()
	})
}

// emit forwards an event unless the supervisor is being torn down.
func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

func (s *Supervisor) consumeStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	parser := &logParser{}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		s.ring.Append(line)

		level, msg := classify(line)
		if fatalLevel(level) {
			s.mu.Lock()
			if s.fatalMsg == "" {
				s.fatalMsg = msg
			}
			s.mu.Unlock()
		}

		if ident, ok := parser.observe(msg); ok {
			s.mu.Lock()
			props := ident.Props
			s.props = &props
			s.mu.Unlock()
			s.emit(ident)
		}

		s.emit(Log{Level: level, Message: msg})
	}
}

// finish drains the readers, reaps the process, runs any in-process
// postprocess step, and delivers the terminal event.
func (s *Supervisor) finish(ioWg *sync.WaitGroup, logger zerolog.Logger) {
	ioWg.Wait()
	waitErr := s.cmd.Wait()
	close(s.exited)

	defer s.permit.Release()
	defer close(s.events)

	s.mu.Lock()
	fatal := s.fatalMsg
	s.mu.Unlock()

	switch {
	case waitErr != nil:
		code := 1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		exitTotal.WithLabelValues("error").Inc()
		logger.Error().Int("exit_code", code).
			Strs("stderr", s.ring.LastN(20)).
			Msg("encoder process failed")
		s.emit(Failed{Message: fmt.Sprintf("encoder exited with code %d: %s",
			code, strings.Join(s.ring.LastN(3), " | "))})

	case fatal != "":
		// Exit status 0 does not override a fatal log line.
		exitTotal.WithLabelValues("fatal_log").Inc()
		logger.Error().Str("fatal", fatal).Msg("encoder logged fatal error despite clean exit")
		s.emit(Failed{Message: "encoder fatal: " + fatal})

	default:
		out := s.cfg.OutputPath
		if s.cfg.Target.needsPostprocess() {
			if err := recodeThumbnail(primaryOutput(s.cfg), out, *s.cfg.Target.Thumb); err != nil {
				exitTotal.WithLabelValues("postprocess_error").Inc()
				logger.Error().Err(err).Msg("thumbnail postprocess failed")
				s.emit(Failed{Message: "postprocess: " + err.Error()})
				return
			}
		}
		info, err := os.Stat(out)
		if err != nil {
			exitTotal.WithLabelValues("output_missing").Inc()
			s.emit(Failed{Message: "encoder produced no output: " + err.Error()})
			return
		}
		exitTotal.WithLabelValues("clean").Inc()
		s.emit(Done{OutputSize: info.Size()})
	}
}
