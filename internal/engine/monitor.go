package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/aosim/internal/bundle"
)

// CronUnit is the unit of a Cron-Interval tag.
type CronUnit int

const (
	CronMillisecond CronUnit = iota + 1
	CronSecond
	CronMinute
	CronHour
	CronDay
	CronMonth
	CronYear
)

// ParseCronUnit parses a unit name. A trailing plural "s" is accepted.
func ParseCronUnit(s string) (CronUnit, error) {
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "millisecond":
		return CronMillisecond, nil
	case "second":
		return CronSecond, nil
	case "minute":
		return CronMinute, nil
	case "hour":
		return CronHour, nil
	case "day":
		return CronDay, nil
	case "month":
		return CronMonth, nil
	case "year":
		return CronYear, nil
	}
	return 0, &ConfigError{Field: "Cron-Interval", Message: fmt.Sprintf("unknown unit %q", s)}
}

// Millis returns the length of one unit. Months are 30 days and years
// 365 days.
func (u CronUnit) Millis() int64 {
	switch u {
	case CronMillisecond:
		return 1
	case CronSecond:
		return 1000
	case CronMinute:
		return 60 * 1000
	case CronHour:
		return 60 * 60 * 1000
	case CronDay:
		return 24 * 60 * 60 * 1000
	case CronMonth:
		return 30 * 24 * 60 * 60 * 1000
	case CronYear:
		return 365 * 24 * 60 * 60 * 1000
	}
	return 0
}

func (u CronUnit) String() string {
	switch u {
	case CronMillisecond:
		return "millisecond"
	case CronSecond:
		return "second"
	case CronMinute:
		return "minute"
	case CronHour:
		return "hour"
	case CronDay:
		return "day"
	case CronMonth:
		return "month"
	case CronYear:
		return "year"
	}
	return "unknown"
}

// maxCronMillis is the longest interval a timer can hold.
const maxCronMillis = math.MaxInt64 / int64(time.Millisecond)

// ParseCronInterval parses "N-unit" into milliseconds. Intervals longer
// than a time.Duration can hold are rejected.
func ParseCronInterval(v string) (int64, error) {
	num, unit, ok := strings.Cut(strings.TrimSpace(v), "-")
	if !ok {
		return 0, &ConfigError{Field: "Cron-Interval", Message: fmt.Sprintf("malformed interval %q", v)}
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n <= 0 {
		return 0, &ConfigError{Field: "Cron-Interval", Message: fmt.Sprintf("invalid count %q", num)}
	}
	u, err := ParseCronUnit(unit)
	if err != nil {
		return 0, err
	}
	if n > maxCronMillis/u.Millis() {
		return 0, &ConfigError{Field: "Cron-Interval", Message: fmt.Sprintf("interval %q is too long", v)}
	}
	return n * u.Millis(), nil
}

// cronRegistry owns the cron timers of all processes, at most one each.
type cronRegistry struct {
	mu     sync.Mutex
	timers map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func newCronRegistry() *cronRegistry {
	return &cronRegistry{timers: make(map[string]context.CancelFunc)}
}

// start runs tick every period until the timer is stopped. Returns false
// when pid already has a timer or period is not positive.
//
// Stopping the timer only ends the wait for the next tick. A tick that is
// already running gets a context that is never cancelled and completes.
func (r *cronRegistry) start(ctx context.Context, pid string, period time.Duration, tick func(context.Context)) bool {
	if period <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.timers[pid]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	r.timers[pid] = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				tick(context.WithoutCancel(ctx))
			}
		}
	}()
	return true
}

// stop cancels the timer of pid. Returns false when there was none.
func (r *cronRegistry) stop(pid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.timers[pid]
	if !ok {
		return false
	}
	cancel()
	delete(r.timers, pid)
	return true
}

func (r *cronRegistry) active(pid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[pid]
	return ok
}

func (r *cronRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// stopAll cancels every timer and waits for running ticks to return.
func (r *cronRegistry) stopAll() {
	r.mu.Lock()
	for pid, cancel := range r.timers {
		cancel()
		delete(r.timers, pid)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Monitor starts the cron timer of a process. Each tick sends the
// process's cron tags as a Cron message signed by signer, or by the
// messenger unit when signer is nil.
//
// Monitor is idempotent: it reports false and changes nothing when a timer
// is already running. The timer outlives ctx; stop it with Unmonitor or
// Close.
func (e *Engine) Monitor(ctx context.Context, pid string, signer bundle.Signer) (bool, error) {
	p, err := e.Process(ctx, pid)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, &NotFoundError{Kind: "process", ID: pid}
	}
	if p.Span <= 0 {
		return false, &ConfigError{Field: "Cron-Interval", Message: "process " + pid + " has no cron interval"}
	}
	if p.Span > maxCronMillis {
		return false, &ConfigError{Field: "Cron-Interval", Message: fmt.Sprintf("process %s interval of %d ms is too long", pid, p.Span)}
	}
	if signer == nil {
		signer = e.messenger
	}

	cronTags := p.CronTags.Clone()
	started := e.cron.start(context.WithoutCancel(ctx), pid, time.Duration(p.Span)*time.Millisecond, func(ctx context.Context) {
		if _, err := e.Message(ctx, MessageRequest{
			Process: pid,
			Tags:    cronTags,
			Signer:  signer,
			From:    signer.Address(),
			Cron:    true,
		}); err != nil {
			e.logger.Warn("cron tick failed", "process", pid, "error", err)
		}
	})
	if started {
		e.logger.Info("cron started", "process", pid, "span_ms", p.Span)
	}
	return started, nil
}

// Unmonitor stops the cron timer of a process. Reports whether a timer was
// running; stopping twice is a no-op.
func (e *Engine) Unmonitor(pid string) bool {
	stopped := e.cron.stop(pid)
	if stopped {
		e.logger.Info("cron stopped", "process", pid)
	}
	return stopped
}

// Monitoring reports whether pid has a running cron timer.
func (e *Engine) Monitoring(pid string) bool {
	return e.cron.active(pid)
}

// CronTimers returns the number of running cron timers.
func (e *Engine) CronTimers() int {
	return e.cron.size()
}
