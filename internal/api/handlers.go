// SPDX-License-Identifier: MIT

package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cubhouse/mom/internal/catalog"
	"github.com/cubhouse/mom/internal/content"
	"github.com/cubhouse/mom/internal/derive"
	"github.com/cubhouse/mom/internal/deriver"
	"github.com/cubhouse/mom/internal/ffmpeg"
	"github.com/cubhouse/mom/internal/jobs"
	"github.com/cubhouse/mom/internal/log"
)

// maxInputBytes caps uploaded source files.
const maxInputBytes = 2 << 30 // 2 GiB

// transcodeChunkBytes is the fixed chunk size for the artifact bytes that
// follow a transcode stream's terminal event.
const transcodeChunkBytes = 256 << 10 // 256 KiB

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// derivationSpec is the wire form of a derivation.
type derivationSpec struct {
	Kind       string   `json:"kind"`
	Codec      string   `json:"codec,omitempty"`
	Width      int      `json:"width,omitempty"`
	Container  string   `json:"container,omitempty"`
	VideoCodec string   `json:"video_codec,omitempty"`
	AudioCodec string   `json:"audio_codec,omitempty"`
	FontFaces  []string `json:"font_faces,omitempty"`
}

func (d derivationSpec) toDerivation() (derive.Derivation, error) {
	switch d.Kind {
	case "passthrough":
		return derive.Passthrough{}, nil
	case "identity":
		return derive.Identity{}, nil
	case "bitmap":
		return derive.Bitmap{Codec: derive.BitmapCodec(d.Codec), Width: d.Width}, nil
	case "video":
		audio := d.AudioCodec
		if audio == "" {
			audio = string(derive.AudioNone)
		}
		return derive.Video{
			Container:  derive.VideoContainer(d.Container),
			VideoCodec: derive.VideoCodec(d.VideoCodec),
			AudioCodec: derive.AudioCodec(audio),
		}, nil
	case "video_thumbnail":
		return derive.VideoThumbnail{Codec: derive.ThumbCodec(d.Codec)}, nil
	case "drawio_render":
		return derive.DrawioRender{FontFaces: d.FontFaces}, nil
	case "svg_cleanup":
		return derive.SvgCleanup{}, nil
	default:
		return nil, fmt.Errorf("unknown derivation kind %q", d.Kind)
	}
}

type deriveBody struct {
	Path       string         `json:"path"`
	Derivation derivationSpec `json:"derivation"`
}

func (s *Server) decodeDeriveRequest(r *http.Request) (deriver.Request, error) {
	var body deriveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return deriver.Request{}, fmt.Errorf("invalid request body: %w", err)
	}
	if body.Path == "" {
		return deriver.Request{}, errors.New("path must not be empty")
	}
	d, err := body.Derivation.toDerivation()
	if err != nil {
		return deriver.Request{}, err
	}
	return deriver.Request{
		Tenant:     chi.URLParam(r, "tenant"),
		Path:       body.Path,
		Derivation: d,
	}, nil
}

// handleDerive is the batch derive endpoint: 200 Done, 409 AlreadyInProgress,
// 429 TooManyRequests.
func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeDeriveRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: err.Error()})
		return
	}

	resp, err := s.exec.Derive(r.Context(), req)
	if err != nil {
		s.writeDeriveError(w, r, err)
		return
	}

	switch v := resp.(type) {
	case deriver.Done:
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
			deriver.Done
		}{"done", v})
	case deriver.AlreadyInProgress:
		writeJSON(w, http.StatusConflict, struct {
			Status string        `json:"status"`
			Info   string        `json:"info"`
			Job    jobs.Snapshot `json:"job"`
		}{"in_progress", v.Job.String(), v.Job})
	case deriver.TooManyRequests:
		writeJSON(w, http.StatusTooManyRequests, struct {
			Status string `json:"status"`
		}{"too_many_requests"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Detail: fmt.Sprintf("unhandled response %T", resp)})
	}
}

// handleTranscode streams supervisor events as NDJSON. A successful run ends
// with a done record followed by the artifact bytes in fixed-size chunk
// records; failures end with an error record.
func (s *Server) handleTranscode(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeDeriveRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming_unsupported"})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	emit := func(v any) {
		_ = enc.Encode(v)
		flusher.Flush()
	}

	resp, err := s.exec.TranscodeStream(r.Context(), req, func(ev ffmpeg.Event) {
		if wire, ok := wireEvent(ev); ok {
			emit(wire)
		}
	})
	if err != nil {
		emit(map[string]any{"event": "error", "message": err.Error()})
		return
	}

	switch v := resp.(type) {
	case deriver.Done:
		emit(map[string]any{"event": "done", "output_size": v.OutputSize, "destination_key": v.Key})
		s.streamArtifact(r, emit, v.Key)
	case deriver.AlreadyInProgress:
		emit(map[string]any{"event": "in_progress", "info": v.Job.String()})
	default:
		emit(map[string]any{"event": "error", "message": fmt.Sprintf("unhandled response %T", resp)})
	}
}

// streamArtifact appends the stored artifact to the event stream as base64
// chunk records of at most transcodeChunkBytes decoded bytes each, closed by
// an end record. Consumers reassemble the artifact by concatenating the
// chunks in order.
func (s *Server) streamArtifact(r *http.Request, emit func(any), key string) {
	data, err := s.store.Get(r.Context(), key)
	if err != nil {
		emit(map[string]any{"event": "error", "message": fmt.Sprintf("read artifact %s: %v", key, err)})
		return
	}

	chunks := 0
	for off := 0; off < len(data); off += transcodeChunkBytes {
		end := min(off+transcodeChunkBytes, len(data))
		emit(map[string]any{
			"event":  "chunk",
			"offset": off,
			"data":   base64.StdEncoding.EncodeToString(data[off:end]),
		})
		chunks++
	}
	emit(map[string]any{"event": "end", "chunks": chunks})
}

// wireEvent maps a supervisor event onto its NDJSON record. Log lines stay in
// the daemon's own log.
func wireEvent(ev ffmpeg.Event) (any, bool) {
	switch v := ev.(type) {
	case ffmpeg.MediaIdentified:
		return map[string]any{
			"event":       "media_identified",
			"duration_ms": v.Props.Duration.Milliseconds(),
			"width":       v.Props.Width,
			"height":      v.Props.Height,
			"video_codec": v.Props.VideoCodec,
			"audio_codec": v.Props.AudioCodec,
		}, true
	case ffmpeg.Progress:
		return map[string]any{
			"event":       "progress",
			"frame":       v.Frame,
			"fps":         v.FPS,
			"size":        v.Size,
			"out_time_ms": v.OutTime.Milliseconds(),
			"total_ms":    v.Total.Milliseconds(),
			"speed":       v.Speed,
		}, true
	default:
		return nil, false
	}
}

// handleRegisterInput uploads one source file into the tenant's catalog and
// the storage source area. Path comes from the ?path= query parameter.
func (s *Server) handleRegisterInput(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "path query parameter required"})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInputBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: err.Error()})
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = content.TypeForPath(path)
	}

	in := content.Input{
		Path:        path,
		ContentHash: content.HashBytes(data),
		Size:        int64(len(data)),
		ContentType: contentType,
	}
	ctx := log.ContextWithTenant(r.Context(), tenant)
	if err := s.catalog.Register(ctx, tenant, in); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "catalog", Detail: err.Error()})
		return
	}
	if err := s.store.Put(ctx, derive.SourceKey(s.cfg.Env, in), data); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "storage", Detail: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Path        string `json:"path"`
		ContentHash string `json:"content_hash"`
		Size        int64  `json:"size"`
		ContentType string `json:"content_type"`
	}{in.Path, in.ContentHash.Hex(), in.Size, in.ContentType})
}

// handleListJobs returns the tenant's running jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	writeJSON(w, http.StatusOK, struct {
		Jobs []jobs.Snapshot `json:"jobs"`
	}{s.jobs.Active(tenant)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"ok"})
}

func (s *Server) writeDeriveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, derive.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: err.Error()})
	case errors.Is(err, catalog.ErrUnknownInput):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown_input", Detail: err.Error()})
	case errors.Is(err, r.Context().Err()):
		// Client is gone; nothing sensible to write.
	default:
		logger := log.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("derivation failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "derivation_failed", Detail: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
