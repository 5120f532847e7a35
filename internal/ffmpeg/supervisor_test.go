// SPDX-License-Identifier: MIT

//go:build unix

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubhouse/mom/internal/derive"
	"github.com/cubhouse/mom/internal/encodegate"
)

// startScript runs a shell stand-in for the encoder.
func startScript(t *testing.T, gate *encodegate.Gate, outPath, script string) *Supervisor {
	t.Helper()
	permit, ok := gate.TryAcquire()
	require.True(t, ok)

	s, err := Start(context.Background(), Config{
		BinPath:    "sh",
		OutputPath: outPath,
		Target:     VideoTarget(derive.Video{Container: derive.ContainerWebM, VideoCodec: derive.CodecVP9, AudioCodec: derive.AudioNone}),
		Grace:      time.Second,
		Args:       []string{"-c", script},
	}, permit)
	require.NoError(t, err)
	return s
}

// drain consumes the stream to exhaustion and returns every event.
func drain(t *testing.T, s *Supervisor) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var events []Event
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, ErrStreamDone) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func terminal(events []Event) Event {
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func TestSupervisorSuccess(t *testing.T) {
	gate := encodegate.New(1)
	out := filepath.Join(t.TempDir(), "out.webm")

	s := startScript(t, gate, out, fmt.Sprintf(
		`echo "[info] opening input" >&2; printf "frame=42\nprogress=end\n"; printf "payload" > %s`, out))
	defer s.Close()

	events := drain(t, s)

	var sawLog, sawProgress bool
	for _, ev := range events {
		switch v := ev.(type) {
		case Log:
			if v.Level == "info" {
				sawLog = true
			}
		case Progress:
			assert.Equal(t, int64(42), v.Frame)
			sawProgress = true
		}
	}
	assert.True(t, sawLog)
	assert.True(t, sawProgress)

	done, ok := terminal(events).(Done)
	require.True(t, ok, "terminal event should be Done, got %T", terminal(events))
	assert.Equal(t, int64(len("payload")), done.OutputSize)

	// Stream is exhausted, not restartable.
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamDone)

	// Permit returned.
	p, ok := gate.TryAcquire()
	require.True(t, ok)
	p.Release()
}

func TestSupervisorNonZeroExit(t *testing.T) {
	gate := encodegate.New(1)
	out := filepath.Join(t.TempDir(), "out.webm")

	s := startScript(t, gate, out, `echo "[error] no such codec" >&2; exit 3`)
	defer s.Close()

	failed, ok := terminal(drain(t, s)).(Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Message, "code 3")
	assert.Contains(t, failed.Message, "no such codec")
}

func TestSupervisorFatalLogOverridesCleanExit(t *testing.T) {
	gate := encodegate.New(1)
	out := filepath.Join(t.TempDir(), "out.webm")

	// Output exists and exit status is zero, but the fatal line must still win.
	s := startScript(t, gate, out, fmt.Sprintf(
		`echo "[fatal] bitstream corrupt" >&2; printf "x" > %s; exit 0`, out))
	defer s.Close()

	failed, ok := terminal(drain(t, s)).(Failed)
	require.True(t, ok, "fatal log must force an error result")
	assert.Contains(t, failed.Message, "bitstream corrupt")
}

func TestSupervisorMissingOutput(t *testing.T) {
	gate := encodegate.New(1)
	out := filepath.Join(t.TempDir(), "out.webm")

	s := startScript(t, gate, out, `exit 0`)
	defer s.Close()

	_, ok := terminal(drain(t, s)).(Failed)
	assert.True(t, ok)
}

func TestSupervisorCloseKillsProcess(t *testing.T) {
	gate := encodegate.New(1)
	out := filepath.Join(t.TempDir(), "out.webm")

	s := startScript(t, gate, out, `sleep 30`)
	pid := s.cmd.Process.Pid

	s.Close()

	// The process group should be gone shortly after teardown.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Error(t, syscall.Kill(pid, 0), "encoder process still running after Close")

	// No partial output, permit released.
	assert.NoFileExists(t, out)
	p, ok := gate.TryAcquire()
	require.True(t, ok, "permit must be released on Close")
	p.Release()

	// Close is idempotent.
	s.Close()
}

func TestSupervisorSpawnFailureReleasesPermit(t *testing.T) {
	gate := encodegate.New(1)
	permit, ok := gate.TryAcquire()
	require.True(t, ok)

	_, err := Start(context.Background(), Config{
		BinPath:    "/nonexistent/encoder-binary",
		OutputPath: filepath.Join(t.TempDir(), "out.webm"),
		Target:     VideoTarget(derive.Video{Container: derive.ContainerWebM, VideoCodec: derive.CodecVP9, AudioCodec: derive.AudioNone}),
		Args:       []string{"-c", "true"},
	}, permit)
	require.Error(t, err)

	p, ok := gate.TryAcquire()
	require.True(t, ok, "spawn failure must release the permit")
	p.Release()
}
