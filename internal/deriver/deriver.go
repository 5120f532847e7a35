// SPDX-License-Identifier: MIT

// Package deriver orchestrates the derivation build pipeline end to end:
// resolve the input, compute its derivation identity, dedupe against running
// jobs, dispatch the transform, and write the artifact to storage under its
// deterministic key.
package deriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cubhouse/mom/internal/catalog"
	"github.com/cubhouse/mom/internal/content"
	"github.com/cubhouse/mom/internal/derive"
	"github.com/cubhouse/mom/internal/drawio"
	"github.com/cubhouse/mom/internal/encodegate"
	"github.com/cubhouse/mom/internal/ffmpeg"
	"github.com/cubhouse/mom/internal/jobs"
	"github.com/cubhouse/mom/internal/log"
	"github.com/cubhouse/mom/internal/metrics"
	"github.com/cubhouse/mom/internal/storage"
	"github.com/cubhouse/mom/internal/svg"
)

// Config holds the executor's environment.
type Config struct {
	// Env is the key environment prefix ("dev", "bin").
	Env string
	// EncoderBin is the external encoder binary, default "ffmpeg".
	EncoderBin string
	// ScratchDir is where encode work directories are created. Defaults to
	// the system temp dir.
	ScratchDir string
	// DevRoot, when set, enables the development-only disk fallback for
	// inputs missing from the catalog or storage. Empty in production.
	DevRoot string
	// EncodeSlots sizes the encode concurrency gate.
	EncodeSlots int
	// EncoderArgs replaces encoder argument construction. Nil builds the
	// argument list from the encode target; tests use it to run shell
	// stand-ins for the encoder.
	EncoderArgs func(inPath, outPath string) []string
}

// Request is one derivation request.
type Request struct {
	Tenant     string
	Path       string
	Derivation derive.Derivation
}

// Response is the tagged result of a derivation request. The variant set is
// closed; HTTP handlers type-switch it onto status codes.
type Response interface{ isResponse() }

// Done reports a completed (or already cached) derivation. Key is returned so
// the caller can verify it agrees with its own idea of the destination.
type Done struct {
	OutputSize  int64  `json:"output_size"`
	Key         string `json:"destination_key"`
	ContentType string `json:"content_type"`
}

// AlreadyInProgress reports that the same logical job is running for this
// tenant; no new work was started.
type AlreadyInProgress struct {
	Job jobs.Snapshot `json:"job"`
}

// TooManyRequests reports that every encode slot was taken. Emitted only from
// the try-acquire-gated batch path; retrying is the caller's business.
type TooManyRequests struct{}

func (Done) isResponse()              {}
func (AlreadyInProgress) isResponse() {}
func (TooManyRequests) isResponse()   {}

// Executor runs derivation requests. All registries are injected, never
// ambient, so tests instantiate isolated executors.
type Executor struct {
	cfg      Config
	catalog  *catalog.Store
	store    storage.Store
	gate     *encodegate.Gate
	jobs     *jobs.Registry
	diagrams *drawio.Renderer

	// flights collapses concurrent builds of the same identity across
	// tenants; per-tenant dedup is the job registry's business.
	flights singleflight.Group
}

// New builds an executor.
func New(cfg Config, cat *catalog.Store, store storage.Store, reg *jobs.Registry) *Executor {
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	return &Executor{
		cfg:      cfg,
		catalog:  cat,
		store:    store,
		gate:     encodegate.New(cfg.EncodeSlots),
		jobs:     reg,
		diagrams: drawio.NewRenderer(),
	}
}

// Gate exposes the encode gate for admission-aware callers.
func (e *Executor) Gate() *encodegate.Gate { return e.gate }

// Derive runs one batch derivation request to completion. Encode admission
// never blocks: a full gate yields TooManyRequests. Validation, admission and
// duplicate detection failures are Responses, not errors; errors mean the
// request itself failed.
func (e *Executor) Derive(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	if err := derive.Validate(req.Derivation); err != nil {
		metrics.DeriveRejectedTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", derive.ErrInvalid, err)
	}
	kind := req.Derivation.Kind()
	ctx = log.ContextWithTenant(ctx, req.Tenant)

	input, err := e.resolveInput(ctx, req.Tenant, req.Path)
	if err != nil {
		metrics.DeriveRejectedTotal.WithLabelValues("unknown_input").Inc()
		return nil, err
	}

	id := derive.IdentityHash(input, req.Derivation)
	outType := derive.OutputContentType(req.Derivation, input.ContentType)
	key := derive.Key(e.cfg.Env, id, content.ExtensionFor(outType))
	ctx = log.ContextWithJobID(ctx, id.Hex())
	logger := log.WithComponentFromContext(ctx, "deriver")

	// Identity is the cache key: an existing artifact ends the request here.
	if cached, err := e.store.Get(ctx, key); err == nil {
		metrics.DeriveTotal.WithLabelValues(kind, "cache_hit").Inc()
		return Done{OutputSize: int64(len(cached)), Key: key, ContentType: outType}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read derived artifact: %w", err)
	}

	ticket, snap := e.jobs.Begin(req.Tenant, id, kind)
	if snap != nil {
		metrics.DeriveTotal.WithLabelValues(kind, "in_progress").Inc()
		return AlreadyInProgress{Job: *snap}, nil
	}
	defer ticket.Done()

	data, err := e.fetchInput(ctx, input, req.Path)
	if err != nil {
		return nil, err
	}

	size, err := e.buildShared(ctx, input, data, req.Derivation, outType, key, ticket)
	if err != nil {
		if errors.Is(err, encodegate.ErrNoCapacity) {
			metrics.DeriveRejectedTotal.WithLabelValues("no_capacity").Inc()
			return TooManyRequests{}, nil
		}
		metrics.DeriveTotal.WithLabelValues(kind, "error").Inc()
		return nil, err
	}

	metrics.DeriveTotal.WithLabelValues(kind, "ok").Inc()
	metrics.DeriveDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	logger.Info().Str("kind", kind).Str("key", key).Int64("size", size).
		Dur("took", time.Since(start)).Msg("derivation complete")
	return Done{OutputSize: size, Key: key, ContentType: outType}, nil
}

// TranscodeStream runs one interactive upload+transcode. Admission blocks on
// the gate instead of failing fast, and every supervisor event is relayed to
// onEvent before being applied to the job registry.
func (e *Executor) TranscodeStream(ctx context.Context, req Request, onEvent func(ffmpeg.Event)) (Response, error) {
	if err := derive.Validate(req.Derivation); err != nil {
		metrics.DeriveRejectedTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", derive.ErrInvalid, err)
	}
	target, err := encodeTarget(req.Derivation)
	if err != nil {
		return nil, err
	}
	ctx = log.ContextWithTenant(ctx, req.Tenant)

	input, err := e.resolveInput(ctx, req.Tenant, req.Path)
	if err != nil {
		return nil, err
	}

	id := derive.IdentityHash(input, req.Derivation)
	outType := derive.OutputContentType(req.Derivation, input.ContentType)
	key := derive.Key(e.cfg.Env, id, content.ExtensionFor(outType))
	ctx = log.ContextWithJobID(ctx, id.Hex())

	if cached, err := e.store.Get(ctx, key); err == nil {
		metrics.DeriveTotal.WithLabelValues(target.Kind(), "cache_hit").Inc()
		return Done{OutputSize: int64(len(cached)), Key: key, ContentType: outType}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read derived artifact: %w", err)
	}

	ticket, snap := e.jobs.Begin(req.Tenant, id, target.Kind())
	if snap != nil {
		return AlreadyInProgress{Job: *snap}, nil
	}
	defer ticket.Done()

	data, err := e.fetchInput(ctx, input, req.Path)
	if err != nil {
		return nil, err
	}

	permit, err := e.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	size, err := e.runEncode(ctx, permit, data, input, target, outType, key, ticket, onEvent)
	if err != nil {
		metrics.DeriveTotal.WithLabelValues(target.Kind(), "error").Inc()
		return nil, err
	}
	metrics.DeriveTotal.WithLabelValues(target.Kind(), "ok").Inc()
	return Done{OutputSize: size, Key: key, ContentType: outType}, nil
}

// buildShared funnels concurrent identical builds into one execution. The key
// embeds the derivation identity, so two tenants deriving the same content
// share one build and one storage write.
func (e *Executor) buildShared(ctx context.Context, input content.Input, data []byte, d derive.Derivation, outType, key string, ticket *jobs.Ticket) (int64, error) {
	for {
		v, err, shared := e.flights.Do(key, func() (any, error) {
			return e.build(ctx, input, data, d, outType, key, ticket)
		})
		if shared {
			metrics.InflightDedupTotal.Inc()
		}
		if err != nil {
			// The flight runs under the winning caller's context. A joiner
			// whose own context is still live must not inherit the winner's
			// cancellation; it reruns the build as a fresh flight instead.
			if shared && ctx.Err() == nil &&
				(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				continue
			}
			return 0, err
		}
		return v.(int64), nil
	}
}

// build dispatches on the derivation variant, writes the artifact and returns
// its size. The variant set is closed; an unknown variant is a hard error,
// never a silent no-op.
func (e *Executor) build(ctx context.Context, input content.Input, data []byte, d derive.Derivation, outType, key string, ticket *jobs.Ticket) (int64, error) {
	var out []byte
	var err error

	switch v := d.(type) {
	case derive.Passthrough, derive.Identity:
		out = data
	case derive.Bitmap:
		out, err = transcodeBitmap(data, v)
	case derive.SvgCleanup:
		out = svg.Clean(data)
	case derive.DrawioRender:
		out, err = e.diagrams.Render(ctx, data, v.FontFaces)
	case derive.Video:
		return e.encode(ctx, data, input, ffmpeg.VideoTarget(v), outType, key, ticket)
	case derive.VideoThumbnail:
		return e.encode(ctx, data, input, ffmpeg.ThumbnailTarget(v), outType, key, ticket)
	default:
		return 0, fmt.Errorf("unknown derivation variant %T", d)
	}

	if err != nil {
		return 0, err
	}
	if err := e.store.Put(ctx, key, out); err != nil {
		return 0, fmt.Errorf("write derived artifact %s: %w", key, err)
	}
	return int64(len(out)), nil
}

// resolveInput looks the path up in the tenant's catalog. In development an
// unregistered path is registered from disk on first use; in production an
// unknown path is fatal to the request.
func (e *Executor) resolveInput(ctx context.Context, tenant, path string) (content.Input, error) {
	in, err := e.catalog.Lookup(ctx, tenant, path)
	if err == nil {
		return in, nil
	}
	if !errors.Is(err, catalog.ErrUnknownInput) || e.cfg.DevRoot == "" {
		return content.Input{}, err
	}

	data, readErr := os.ReadFile(e.devPath(path))
	if readErr != nil {
		return content.Input{}, fmt.Errorf("%w (dev fallback: %v)", err, readErr)
	}

	in = content.NewInput(path, data, content.TypeForPath(path))
	if err := e.catalog.Register(ctx, tenant, in); err != nil {
		return content.Input{}, err
	}
	logger := log.WithComponentFromContext(ctx, "deriver")
	if err := e.store.Put(ctx, derive.SourceKey(e.cfg.Env, in), data); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("could not cache dev input in storage")
	}
	logger.Info().Str("path", path).Str("hash", in.ContentHash.Hex()).
		Msg("registered input from disk")
	return in, nil
}

// fetchInput loads the input's raw bytes from storage, falling back to disk
// in development only. The bytes must still match the catalog's hash; drifted
// dev files need re-registration, not a silently poisoned cache.
func (e *Executor) fetchInput(ctx context.Context, in content.Input, path string) ([]byte, error) {
	data, err := e.store.Get(ctx, derive.SourceKey(e.cfg.Env, in))
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("fetch input bytes: %w", err)
	}
	if e.cfg.DevRoot == "" {
		return nil, fmt.Errorf("input bytes for %s missing from storage", in.ContentHash.Hex())
	}

	data, err = os.ReadFile(e.devPath(path))
	if err != nil {
		return nil, fmt.Errorf("fetch input bytes: %w", err)
	}
	if got := content.HashBytes(data); got != in.ContentHash {
		return nil, fmt.Errorf("input %s changed on disk (catalog %s, disk %s); re-register it",
			path, in.ContentHash.Hex(), got.Hex())
	}
	return data, nil
}

// devPath maps a catalog path onto the dev root, with the path rooted first
// so it cannot escape the root.
func (e *Executor) devPath(path string) string {
	return filepath.Join(e.cfg.DevRoot, filepath.Clean("/"+path))
}

func encodeTarget(d derive.Derivation) (ffmpeg.Target, error) {
	switch v := d.(type) {
	case derive.Video:
		return ffmpeg.VideoTarget(v), nil
	case derive.VideoThumbnail:
		return ffmpeg.ThumbnailTarget(v), nil
	default:
		return ffmpeg.Target{}, fmt.Errorf("transcode stream supports video derivations only, got %s", d.Kind())
	}
}
