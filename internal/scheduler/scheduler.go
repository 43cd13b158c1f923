package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrDuplicateKey = errors.New("schedule key already registered")
	ErrUnknownKey   = errors.New("schedule key not registered")
)

// Job is a scheduled callback. It receives the service's base context.
type Job func(ctx context.Context)

// Entry describes one registered schedule.
type Entry struct {
	Key  string    `json:"key"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Service owns a keyed registry of cron entries. It is constructed once per
// process and handed to whoever needs to schedule work.
type Service struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context

	mu      sync.Mutex
	entries map[string]registration
	running bool
}

type registration struct {
	id   cron.EntryID
	spec string
}

func New(logger *zap.Logger, baseCtx context.Context) *Service {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Service{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
		baseCtx: baseCtx,
		entries: map[string]registration{},
	}
}

// Register schedules job under key. Specs use the six-field form with seconds
// or descriptors such as "@every 5m".
func (s *Service) Register(key, spec string, job Job) error {
	key = strings.TrimSpace(key)
	spec = strings.TrimSpace(spec)
	if key == "" || job == nil {
		return fmt.Errorf("schedule %q: key and job are required", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	id, err := s.cron.AddFunc(spec, func() { s.invoke(key, job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", key, err)
	}
	s.entries[key] = registration{id: id, spec: spec}
	if s.logger != nil {
		s.logger.Info("schedule registered", zap.String("key", key), zap.String("spec", spec))
	}
	return nil
}

// Unregister removes the entry for key.
func (s *Service) Unregister(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	s.cron.Remove(reg.id)
	delete(s.entries, key)
	return nil
}

// Entries lists registered schedules sorted by key.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for key, reg := range s.entries {
		e := s.cron.Entry(reg.id)
		out = append(out, Entry{Key: key, Spec: reg.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RunNow invokes the job registered under key synchronously.
func (s *Service) RunNow(key string) error {
	s.mu.Lock()
	reg, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	s.cron.Entry(reg.id).WrappedJob.Run()
	return nil
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	if s.logger != nil {
		s.logger.Info("scheduler started", zap.Int("entries", len(s.entries)))
	}
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	ctx := s.cron.Stop()
	<-ctx.Done()
	if s.logger != nil {
		s.logger.Info("scheduler stopped")
	}
}

func (s *Service) invoke(key string, job Job) {
	defer func() {
		if p := recover(); p != nil && s.logger != nil {
			s.logger.Error("scheduled job panicked", zap.String("key", key), zap.Any("panic", p))
		}
	}()
	job(s.baseCtx)
}
