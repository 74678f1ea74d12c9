// Package health exposes the /livez and /readyz probe endpoints for the
// pricing service.
//
// Probes are registered before the server starts and then polled on a shared
// interval. A probe only flips to failing after three consecutive bad polls,
// so a single slow database round trip during a deploy does not take the
// service out of rotation; a single good poll flips it back.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// Probe kinds. Liveness failures mean the process should be restarted;
// readiness failures only mean it should stop receiving traffic.
const (
	kindLiveness = iota
	kindReadiness
)

// CheckFunc polls one dependency. A nil return means the dependency is fine.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailAfter    = 3
	defaultRecoverAfter = 1
)

// probe is one registered check plus its polling state. All state after the
// function fields is guarded by mu; poll() is the only writer but the HTTP
// endpoints read concurrently.
type probe struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	mu      sync.Mutex
	badRuns int
	okRuns  int
	failing bool
	lastErr error
}

// poll runs the check once and applies the flip thresholds.
func (p *probe) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.fn(pollCtx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		p.okRuns = 0
		p.badRuns++
		if p.badRuns >= defaultFailAfter {
			p.failing = true
		}
		return
	}
	p.badRuns = 0
	p.okRuns++
	if p.okRuns >= defaultRecoverAfter {
		p.failing = false
	}
}

// state reports whether the probe is failing and, if so, why.
func (p *probe) state() (failing bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failing, p.lastErr
}

// Health owns all registered probes and the polling loop.
type Health struct {
	mu     sync.RWMutex
	probes map[int][]*probe
	ready  bool
	cancel context.CancelFunc
}

// New returns a Health with no probes registered. The service starts not
// ready; call SetReady(true) once startup has finished.
func New() *Health {
	return &Health{probes: map[int][]*probe{}}
}

func (h *Health) register(kind int, name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[kind] = append(h.probes[kind], &probe{
		name:    name,
		timeout: timeout,
		fn:      fn,
	})
}

// AddLivenessCheck registers a probe for /livez. Use it for process-level
// problems like goroutine leaks, not for dependency outages.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.register(kindLiveness, name, timeout, fn)
}

// AddReadinessCheck registers a probe for /readyz, typically database or
// dependent-service connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.register(kindReadiness, name, timeout, fn)
}

// Start polls every registered probe on the given interval until the context
// is cancelled or Stop is called. Register all probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	all := append(h.snapshot(kindLiveness), h.snapshot(kindReadiness)...)
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			pollAll(ctx, all)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// pollAll runs one round of polls concurrently so one stuck dependency does
// not delay the others.
func pollAll(ctx context.Context, probes []*probe) {
	var wg sync.WaitGroup
	for _, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.poll(ctx)
		}()
	}
	wg.Wait()
}

// Stop ends the polling loop. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Pass false during graceful
// shutdown so the load balancer drains the instance before the listener
// closes.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

// IsReady reports whether the gate is open and every readiness probe passes.
func (h *Health) IsReady() bool {
	h.mu.RLock()
	ready := h.ready
	probes := h.snapshot(kindReadiness)
	h.mu.RUnlock()
	if !ready {
		return false
	}
	for _, p := range probes {
		if failing, _ := p.state(); failing {
			return false
		}
	}
	return true
}

// snapshot copies the probe list for a kind. Callers must hold h.mu in at
// least read mode.
func (h *Health) snapshot(kind int) []*probe {
	probes := h.probes[kind]
	out := make([]*probe, len(probes))
	copy(out, probes)
	return out
}

// LiveEndpoint serves /livez: 200 when every liveness probe passes, 503 with
// the failing probe names otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probes := h.snapshot(kindLiveness)
	h.mu.RUnlock()

	writeProbeStatus(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the manual gate is open and
// every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	probes := h.snapshot(kindReadiness)
	h.mu.RUnlock()

	failed := failures(probes)
	if !ready {
		failed["_readiness"] = "service is not ready"
	}
	writeProbeStatus(w, failed)
}

// failures maps each failing probe to its last error message.
func failures(probes []*probe) map[string]string {
	failed := map[string]string{}
	for _, p := range probes {
		failing, err := p.state()
		if !failing {
			continue
		}
		msg := "check is unhealthy"
		if err != nil {
			msg = err.Error()
		}
		failed[p.name] = msg
	}
	return failed
}

// writeProbeStatus renders {"status":"ok"} or a 503 body listing failures.
func writeProbeStatus(w http.ResponseWriter, failed map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if len(failed) == 0 {
		e.Str("ok")
		e.ObjEnd()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(e.Bytes())
		return
	}
	e.Str("unhealthy")
	e.FieldStart("checks")
	e.ObjStart()
	for name, msg := range failed {
		e.FieldStart(name)
		e.Str(msg)
	}
	e.ObjEnd()
	e.ObjEnd()
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write(e.Bytes())
}
