// Package health exposes Kubernetes-style liveness and readiness probes.
//
// Probes are registered once at startup and then evaluated periodically by a
// single background scheduler. A probe flips to unhealthy after three
// consecutive failures and recovers on the first success, which keeps a
// flapping dependency from bouncing the pod.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc probes a single component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const failureStreak = 3

type probeKind int

const (
	liveness probeKind = iota
	readiness
)

// probe is the registered check plus its evaluation state. All fields after
// check are guarded by Health.mu.
type probe struct {
	name    string
	kind    probeKind
	timeout time.Duration
	check   CheckFunc

	fails   int
	lastErr error
}

func (p *probe) healthy() bool { return p.fails < failureStreak }

// Health runs registered probes and serves the /livez and /readyz endpoints.
type Health struct {
	mu     sync.Mutex
	probes []*probe
	ready  bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Health with no probes registered. The service starts
// not-ready; call SetReady(true) once initialization completes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a liveness probe. Liveness failures mean the
// process itself is broken (goroutine leak, runaway GC) and should be
// restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(&probe{name: name, kind: liveness, timeout: timeout, check: check})
}

// AddReadinessCheck registers a readiness probe. Readiness failures mean a
// dependency (database, cache) is unavailable and traffic should be routed
// elsewhere until it recovers.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(&probe{name: name, kind: readiness, timeout: timeout, check: check})
}

func (h *Health) add(p *probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, p)
}

// Start launches the probe scheduler. All probes are evaluated immediately
// and then once per interval until the context is cancelled or Stop is
// called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		h.runAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.runAll(ctx)
			}
		}
	}()
}

// Stop cancels the probe scheduler and waits for it to exit. Safe to call
// multiple times and before Start.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (h *Health) runAll(ctx context.Context) {
	h.mu.Lock()
	probes := make([]*probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	for _, p := range probes {
		h.runOne(ctx, p)
	}
}

func (h *Health) runOne(ctx context.Context, p *probe) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := h.safeCheck(checkCtx, p.check)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	p.lastErr = err
	if err != nil {
		p.fails++
		return
	}
	p.fails = 0
}

// safeCheck shields the scheduler from panicking probes.
func (h *Health) safeCheck(ctx context.Context, check CheckFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return check(ctx)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("check panicked: %v", e.value) }

// SetReady flips the manual readiness gate. Flip to false during graceful
// shutdown so load balancers stop sending new requests.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady reports whether the manual gate is open and every readiness probe
// is passing.
func (h *Health) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		return false
	}
	for _, p := range h.probes {
		if p.kind == readiness && !p.healthy() {
			return false
		}
	}
	return true
}

// LiveEndpoint serves /livez: 200 when every liveness probe passes, 503 with
// per-probe errors otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serve(w, liveness, true)
}

// ReadyEndpoint serves /readyz: 200 when the service is marked ready and
// every readiness probe passes, 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serve(w, readiness, h.manualReady())
}

func (h *Health) manualReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *Health) serve(w http.ResponseWriter, kind probeKind, gate bool) {
	failures := h.failures(kind)
	if !gate {
		failures["_readiness"] = "service is not ready"
	}

	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func (h *Health) failures(kind probeKind) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	failures := make(map[string]string)
	for _, p := range h.probes {
		if p.kind != kind || p.healthy() {
			continue
		}
		if p.lastErr != nil {
			failures[p.name] = p.lastErr.Error()
		} else {
			failures[p.name] = "check is unhealthy"
		}
	}
	return failures
}
