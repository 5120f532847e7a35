// SPDX-License-Identifier: MIT

// Package jobs tracks in-progress derivations per tenant so duplicate
// requests can be answered with the running job's snapshot instead of
// starting a second build.
package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/cubhouse/mom/internal/content"
	"github.com/cubhouse/mom/internal/metrics"
)

// Progress is the latest progress tick relayed from the encoder. Zero for
// transforms that complete without intermediate progress.
type Progress struct {
	Frame   int64         `json:"frame,omitempty"`
	FPS     float64       `json:"fps,omitempty"`
	Size    int64         `json:"size,omitempty"`
	OutTime time.Duration `json:"out_time,omitempty"`
	Total   time.Duration `json:"total,omitempty"`
	Speed   float64       `json:"speed,omitempty"`
}

// job is one in-progress derivation. Two requests are the same job when
// their derivation identities match; structural equality of the request
// payload is irrelevant.
type job struct {
	tenant    string
	identity  content.Hash
	kind      string
	startedAt time.Time

	lastHeartbeat time.Time
	lastProgress  Progress
}

// Snapshot is a point-in-time copy of a job, safe to hand to HTTP callers.
type Snapshot struct {
	Tenant        string        `json:"tenant"`
	Identity      string        `json:"identity"`
	Kind          string        `json:"kind"`
	StartedAt     time.Time     `json:"started_at"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	Progress      Progress      `json:"progress"`
	Elapsed       time.Duration `json:"elapsed"`
}

// String renders the human-readable form carried in "already in progress"
// responses.
func (s Snapshot) String() string {
	if s.Progress.Total > 0 && s.Progress.OutTime > 0 {
		pct := float64(s.Progress.OutTime) / float64(s.Progress.Total) * 100
		return fmt.Sprintf("%s %s: %.1f%% (%.1fx), running for %s",
			s.Kind, s.Identity, pct, s.Progress.Speed, s.Elapsed.Round(time.Second))
	}
	return fmt.Sprintf("%s %s: running for %s", s.Kind, s.Identity, s.Elapsed.Round(time.Second))
}

// Registry is the per-tenant job map. All critical sections are plain map
// operations; the lock is never held across an await point.
type Registry struct {
	mu      sync.Mutex
	tenants map[string]map[content.Hash]*job
	clock   func() time.Time
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tenants: make(map[string]map[content.Hash]*job),
		clock:   time.Now,
	}
}

// Ticket is the scope guard for an accepted job. Done removes the registry
// entry and must run on every exit path; callers hold it in a defer
// immediately after Begin succeeds.
type Ticket struct {
	r    *Registry
	job  *job
	once sync.Once
}

// Begin registers a job for (tenant, identity). If the same logical job is
// already running it returns (nil, snapshot) and the caller must answer
// "already in progress" without starting any work.
func (r *Registry) Begin(tenant string, id content.Hash, kind string) (*Ticket, *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.tenants[tenant]
	if byID == nil {
		byID = make(map[content.Hash]*job)
		r.tenants[tenant] = byID
	}

	if existing, ok := byID[id]; ok {
		snap := r.snapshotLocked(existing)
		return nil, &snap
	}

	now := r.clock()
	j := &job{
		tenant:        tenant,
		identity:      id,
		kind:          kind,
		startedAt:     now,
		lastHeartbeat: now,
	}
	byID[id] = j
	metrics.JobsActive.WithLabelValues(tenant).Inc()

	return &Ticket{r: r, job: j}, nil
}

// Progress records a progress tick. Ticks double as liveness heartbeats; no
// separate timer exists.
func (t *Ticket) Progress(p Progress) {
	t.r.mu.Lock()
	t.job.lastProgress = p
	t.job.lastHeartbeat = t.r.clock()
	t.r.mu.Unlock()
}

// Done removes the job unconditionally. Idempotent.
func (t *Ticket) Done() {
	t.once.Do(func() {
		t.r.mu.Lock()
		byID := t.r.tenants[t.job.tenant]
		delete(byID, t.job.identity)
		if len(byID) == 0 {
			delete(t.r.tenants, t.job.tenant)
		}
		t.r.mu.Unlock()
		metrics.JobsActive.WithLabelValues(t.job.tenant).Dec()
	})
}

// Snapshot returns the current state of a running job, if any.
func (r *Registry) Snapshot(tenant string, id content.Hash) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.tenants[tenant][id]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshotLocked(j), true
}

// Active lists the running jobs for a tenant, in no particular order.
func (r *Registry) Active(tenant string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.tenants[tenant]
	out := make([]Snapshot, 0, len(byID))
	for _, j := range byID {
		out = append(out, r.snapshotLocked(j))
	}
	return out
}

func (r *Registry) snapshotLocked(j *job) Snapshot {
	return Snapshot{
		Tenant:        j.tenant,
		Identity:      j.identity.Hex(),
		Kind:          j.kind,
		StartedAt:     j.startedAt,
		LastHeartbeat: j.lastHeartbeat,
		Progress:      j.lastProgress,
		Elapsed:       r.clock().Sub(j.startedAt),
	}
}
