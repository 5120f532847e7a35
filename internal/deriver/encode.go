// SPDX-License-Identifier: MIT

package deriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cubhouse/mom/internal/content"
	"github.com/cubhouse/mom/internal/encodegate"
	"github.com/cubhouse/mom/internal/ffmpeg"
	"github.com/cubhouse/mom/internal/jobs"
	"github.com/cubhouse/mom/internal/log"
)

// encode is the batch admission path: a full gate fails fast with
// ErrNoCapacity instead of queueing.
func (e *Executor) encode(ctx context.Context, data []byte, input content.Input, target ffmpeg.Target, outType, key string, ticket *jobs.Ticket) (int64, error) {
	permit, ok := e.gate.TryAcquire()
	if !ok {
		return 0, encodegate.ErrNoCapacity
	}
	return e.runEncode(ctx, permit, data, input, target, outType, key, ticket, nil)
}

// runEncode drives one supervised encoder process to its terminal event.
// Permit ownership transfers to the supervisor at Start; before that, every
// failure path must release it here. The artifact is written to storage only
// after Done, so a cancelled or failed encode never leaves partial output
// behind.
func (e *Executor) runEncode(ctx context.Context, permit *encodegate.Permit, data []byte, input content.Input, target ffmpeg.Target, outType, key string, ticket *jobs.Ticket, onEvent func(ffmpeg.Event)) (int64, error) {
	dir, err := os.MkdirTemp(e.cfg.ScratchDir, "encode-*")
	if err != nil {
		permit.Release()
		return 0, fmt.Errorf("create encode scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	inPath := filepath.Join(dir, "input."+content.ExtensionFor(input.ContentType))
	outPath := filepath.Join(dir, "output."+content.ExtensionFor(outType))
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		permit.Release()
		return 0, fmt.Errorf("stage encode input: %w", err)
	}

	cfg := ffmpeg.Config{
		BinPath:    e.cfg.EncoderBin,
		InputPath:  inPath,
		OutputPath: outPath,
		Target:     target,
	}
	if e.cfg.EncoderArgs != nil {
		cfg.Args = e.cfg.EncoderArgs(inPath, outPath)
	}

	sup, err := ffmpeg.Start(ctx, cfg, permit)
	if err != nil {
		return 0, err
	}
	defer sup.Close()

	logger := log.WithComponentFromContext(ctx, "deriver")
	for {
		ev, err := sup.Next(ctx)
		if errors.Is(err, ffmpeg.ErrStreamDone) {
			return 0, errors.New("encoder stream ended without a terminal event")
		}
		if err != nil {
			// Caller gone; the deferred Close signals the process group.
			return 0, err
		}
		if onEvent != nil {
			onEvent(ev)
		}

		switch v := ev.(type) {
		case ffmpeg.MediaIdentified:
			logger.Info().
				Dur("duration", v.Props.Duration).
				Str("video_codec", v.Props.VideoCodec).
				Str("audio_codec", v.Props.AudioCodec).
				Int("width", v.Props.Width).
				Int("height", v.Props.Height).
				Msg("source media identified")

		case ffmpeg.Progress:
			ticket.Progress(jobs.Progress{
				Frame:   v.Frame,
				FPS:     v.FPS,
				Size:    v.Size,
				OutTime: v.OutTime,
				Total:   v.Total,
				Speed:   v.Speed,
			})

		case ffmpeg.Log:
			logger.Debug().Str("level", v.Level).Msg(v.Message)

		case ffmpeg.Failed:
			return 0, errors.New(v.Message)

		case ffmpeg.Done:
			out, err := os.ReadFile(outPath)
			if err != nil {
				return 0, fmt.Errorf("read encoder output: %w", err)
			}
			if err := e.store.Put(ctx, key, out); err != nil {
				return 0, fmt.Errorf("write derived artifact %s: %w", key, err)
			}
			return int64(len(out)), nil
		}
	}
}
