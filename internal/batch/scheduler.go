package batch

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor like @daily
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// RunFunc performs one scheduled export. ctx is cancelled when the entry's
// MaxDuration elapses or the scheduler stops.
type RunFunc func(ctx context.Context, e Entry) error

// Scheduler fires entries on their cron schedule. An entry whose previous
// run is still going is skipped.
type Scheduler struct {
	entries map[string]Entry
	cron    *cron.Cron

	mu      sync.RWMutex
	lastRun map[string]time.Time
	lastErr map[string]error
}

// NewScheduler validates entries and creates a scheduler
func NewScheduler(entries []Entry) (*Scheduler, error) {
	s := &Scheduler{
		entries: make(map[string]Entry),
		lastRun: make(map[string]time.Time),
		lastErr: make(map[string]error),
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))),
		),
	}

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		s.entries[e.Name] = e
	}

	return s, nil
}

// NextRun returns the next scheduled time for an entry, or zero if unknown
func (s *Scheduler) NextRun(name string) time.Time {
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	sched, err := parser.Parse(e.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// LastRun returns when an entry last finished and its error
func (s *Scheduler) LastRun(name string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun[name], s.lastErr[name]
}

// Names returns all entry names, sorted
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the entry with the given name
func (s *Scheduler) Get(name string) (Entry, bool) {
	e, ok := s.entries[name]
	return e, ok
}

// Start registers every entry and blocks until ctx is done, then waits for
// running exports to return
func (s *Scheduler) Start(ctx context.Context, run RunFunc) error {
	for _, name := range s.Names() {
		e := s.entries[name]
		if _, err := s.cron.AddFunc(e.Cron, func() { s.fire(ctx, e, run) }); err != nil {
			return err
		}
		log.Printf("[schedule] %s: next run %s", name, s.NextRun(name).Format(time.RFC1123))
	}

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) fire(ctx context.Context, e Entry, run RunFunc) {
	runCtx, cancel := context.WithTimeout(ctx, e.MaxDuration.Duration)
	defer cancel()

	log.Printf("[schedule] starting %s", e.Name)
	err := run(runCtx, e)
	if err != nil {
		log.Printf("[schedule] %s failed: %v", e.Name, err)
	}

	s.mu.Lock()
	s.lastRun[e.Name] = time.Now()
	s.lastErr[e.Name] = err
	s.mu.Unlock()
}
