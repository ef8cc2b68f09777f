package health

import (
	"sort"
	"sync"
	"time"
)

// Tracker accumulates probe and call outcomes per gateway and decides
// when a gateway has gone down or come back. The transmit worker and
// the prober both feed it; the admin API reads it.
type Tracker struct {
	mu            sync.RWMutex
	downThreshold int
	reports       map[string]*Report
	downCBs       []func(gateway string)
	recoveredCBs  []func(gateway string)

	nowFunc func() time.Time
}

// NewTracker creates a tracker. A gateway is reported down after
// downThreshold consecutive failures.
func NewTracker(downThreshold int) *Tracker {
	if downThreshold <= 0 {
		downThreshold = DefaultProberConfig().DownThreshold
	}
	return &Tracker{
		downThreshold: downThreshold,
		reports:       make(map[string]*Report),
		nowFunc:       time.Now,
	}
}

// RecordSuccess reports a successful gateway interaction. Returns true
// if this success brought the gateway back from degraded or down.
func (t *Tracker) RecordSuccess(gateway string) bool {
	t.mu.Lock()
	r := t.report(gateway)
	recovered := r.Status == StatusDegraded || r.Status == StatusDown
	now := t.nowFunc()
	r.Status = StatusHealthy
	r.LastSuccess = now
	r.CheckedAt = now
	r.ConsecutiveFailures = 0
	r.LastError = ""
	var cbs []func(string)
	if recovered {
		cbs = make([]func(string), len(t.recoveredCBs))
		copy(cbs, t.recoveredCBs)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(gateway)
	}
	return recovered
}

// RecordFailure reports a failed gateway interaction. Returns true if
// this failure took the gateway over the down threshold.
func (t *Tracker) RecordFailure(gateway string, err error) bool {
	t.mu.Lock()
	r := t.report(gateway)
	now := t.nowFunc()
	r.LastFailure = now
	r.CheckedAt = now
	r.ConsecutiveFailures++
	if err != nil {
		r.LastError = err.Error()
	}

	wentDown := false
	if r.ConsecutiveFailures >= t.downThreshold {
		if r.Status != StatusDown {
			wentDown = true
		}
		r.Status = StatusDown
	} else {
		r.Status = StatusDegraded
	}

	var cbs []func(string)
	if wentDown {
		cbs = make([]func(string), len(t.downCBs))
		copy(cbs, t.downCBs)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(gateway)
	}
	return wentDown
}

// report returns the record for a gateway, creating it if needed.
// Caller must hold the lock.
func (t *Tracker) report(gateway string) *Report {
	r, ok := t.reports[gateway]
	if !ok {
		r = &Report{Gateway: gateway, Status: StatusUnknown}
		t.reports[gateway] = r
	}
	return r
}

// Report returns the current report for a gateway, or a zero report
// with StatusUnknown if the gateway has never been seen.
func (t *Tracker) Report(gateway string) Report {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.reports[gateway]; ok {
		return *r
	}
	return Report{Gateway: gateway, Status: StatusUnknown}
}

// Reports returns all gateway reports, sorted by gateway name.
func (t *Tracker) Reports() []Report {
	t.mu.RLock()
	out := make([]Report, 0, len(t.reports))
	for _, r := range t.reports {
		out = append(out, *r)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Gateway < out[j].Gateway })
	return out
}

// Healthy reports whether a gateway is currently usable. Unknown
// gateways count as healthy so a fresh process does not refuse work.
func (t *Tracker) Healthy(gateway string) bool {
	return t.Report(gateway).Status != StatusDown
}

// OnDown registers a callback invoked when a gateway crosses the down
// threshold.
func (t *Tracker) OnDown(callback func(gateway string)) {
	t.mu.Lock()
	t.downCBs = append(t.downCBs, callback)
	t.mu.Unlock()
}

// OnRecovered registers a callback invoked when a down or degraded
// gateway succeeds again.
func (t *Tracker) OnRecovered(callback func(gateway string)) {
	t.mu.Lock()
	t.recoveredCBs = append(t.recoveredCBs, callback)
	t.mu.Unlock()
}
