package sessionlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/resumechat/internal/storage"
)

// DefaultKeep is how many session keys survive cleanup.
const DefaultKeep = 1000

const (
	cleanupTimeout = 30 * time.Second
	parallelism    = 8
)

// Publisher receives a copy of every recorded entry.
type Publisher interface {
	Publish(subject string, data any) error
}

// Logger appends entries to per-visitor sessions in a Store. A nil *Logger
// is valid and records nothing.
type Logger struct {
	store     storage.Store
	keep      int
	publisher Publisher
	subject   string
	logger    *slog.Logger
	now       func() time.Time

	locks    keyedMutex
	cleaning atomic.Bool
	wg       sync.WaitGroup
}

// Option configures a Logger.
type Option func(*Logger)

// WithPublisher forwards each recorded entry to p on subject.
func WithPublisher(p Publisher, subject string) Option {
	return func(l *Logger) {
		l.publisher = p
		l.subject = subject
	}
}

// WithLogger sets the logger for background failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New returns a Logger writing to store, or nil when store is nil.
// keep <= 0 means DefaultKeep.
func New(store storage.Store, keep int, opts ...Option) *Logger {
	if store == nil {
		return nil
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	l := &Logger{
		store:  store,
		keep:   keep,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Enabled reports whether entries are stored.
func (l *Logger) Enabled() bool { return l != nil }

// Record appends e to the session of e.IP for the day of e.Timestamp and
// then trims old sessions in the background. Missing fields are filled in: ID,
// Timestamp, and "unknown" for IP, UserAgent and Question.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if l == nil {
		return nil
	}

	at := l.now()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = FormatTime(at)
	} else if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		at = t
	}
	if e.IP == "" {
		e.IP = Unknown
	}
	if e.UserAgent == "" {
		e.UserAgent = Unknown
	}
	if e.Question == "" {
		e.Question = "Unknown"
	}
	key := SessionKey(at, e.IP)

	if err := l.append(ctx, key, e); err != nil {
		return fmt.Errorf("recording session %s: %w", key, err)
	}

	if l.publisher != nil {
		if err := l.publisher.Publish(l.subject, e); err != nil {
			l.logger.Warn("publishing interaction", "error", err)
		}
	}

	l.scheduleCleanup(ctx)
	return nil
}

func (l *Logger) append(ctx context.Context, key string, e Entry) error {
	apply := func(old string, found bool) (string, error) {
		s := decodeSession(old, found, l.logger, key)
		if s == nil {
			s = &Session{StartTime: e.Timestamp}
		}
		s.Interactions = append(s.Interactions, e)
		b, err := json.Marshal(s)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	if u, ok := l.store.(storage.Updater); ok {
		return u.Update(ctx, key, apply)
	}

	unlock := l.locks.lock(key)
	defer unlock()

	old, err := l.store.Get(ctx, key)
	found := true
	if errors.Is(err, storage.ErrNotFound) {
		found = false
	} else if err != nil {
		return err
	}
	v, err := apply(old, found)
	if err != nil {
		return err
	}
	return l.store.Put(ctx, key, v)
}

// decodeSession returns the stored session, or nil when there is none or it
// cannot be read.
func decodeSession(raw string, found bool, logger *slog.Logger, key string) *Session {
	if !found || raw == "" {
		return nil
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.StartTime == "" {
		logger.Warn("replacing malformed session", "key", key, "error", err)
		return nil
	}
	return &s
}

// scheduleCleanup starts a trim unless one is already running.
func (l *Logger) scheduleCleanup(ctx context.Context) {
	if !l.cleaning.CompareAndSwap(false, true) {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.cleaning.Store(false)

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if n, err := l.Cleanup(cctx); err != nil {
			l.logger.Warn("session cleanup failed", "error", err)
		} else if n > 0 {
			l.logger.Debug("session cleanup", "deleted", n)
		}
	}()
}

// Cleanup deletes every session key beyond the newest keep, ordering keys
// descending. It returns how many keys were deleted.
func (l *Logger) Cleanup(ctx context.Context) (int, error) {
	if l == nil {
		return 0, nil
	}
	keys, err := l.store.List(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}
	if len(keys) <= l.keep {
		return 0, nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	stale := keys[l.keep:]

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, k := range stale {
		g.Go(func() error {
			return l.store.Delete(gctx, k)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("deleting sessions: %w", err)
	}
	return len(stale), nil
}

// Keys lists every session key, ascending.
func (l *Logger) Keys(ctx context.Context) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	return l.store.List(ctx, KeyPrefix)
}

// Sessions loads every stored session, newest start time first. Sessions
// that cannot be decoded are skipped.
func (l *Logger) Sessions(ctx context.Context) ([]Stored, error) {
	if l == nil {
		return nil, nil
	}
	keys, err := l.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	loaded := make([]*Session, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, k := range keys {
		g.Go(func() error {
			raw, err := l.store.Get(gctx, k)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", k, err)
			}
			loaded[i] = decodeSession(raw, true, l.logger, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Stored, 0, len(keys))
	for i, s := range loaded {
		if s != nil {
			out = append(out, Stored{Key: keys[i], Session: *s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime > out[j].StartTime
	})
	return out, nil
}

// Close waits for background cleanup to finish.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.wg.Wait()
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
