// Package session gives every browser its own map state. A session owns a
// route-data coordinator and the stop loaders of the popups it has opened;
// both are dropped once the session has been idle for its TTL.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"transitmap/internal/poll"
	"transitmap/internal/routedata"
	"transitmap/internal/stoproutes"
)

// CookieName is the cookie carrying the session id.
const CookieName = "transitmap_session"

const (
	stopTTL         = 10 * time.Minute
	cleanupInterval = time.Minute
)

// Backend is everything a session's coordinators call.
type Backend interface {
	routedata.Backend
	stoproutes.Backend
}

// Metrics tracks live sessions.
type Metrics interface {
	SessionOpened()
	SessionClosed()
}

// Options configures a Store.
type Options struct {
	TTL               time.Duration
	Route             routedata.Options
	ActiveProbeMaxAge time.Duration
	ProbeConcurrency  int
	Metrics           Metrics
}

// Session is one browser's state.
type Session struct {
	ID  string
	Map *routedata.Coordinator

	stops *Cache[*stoproutes.Loader]
	newFn func(stopID string) *stoproutes.Loader

	watchers  atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

// Watch marks the session as being viewed; it does not expire while any
// watcher remains. Call the returned func when the view goes away.
func (s *Session) Watch() (release func()) {
	s.watchers.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { s.watchers.Add(-1) })
	}
}

func (s *Session) watched() bool {
	return s.watchers.Load() > 0
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop returns the loader for stopID, creating it on first use.
func (s *Session) Stop(stopID string) *stoproutes.Loader {
	return s.stops.GetOrCreate(stopID, func() *stoproutes.Loader {
		return s.newFn(stopID)
	})
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.Map.Close()
		s.stops.Clear()
		close(s.done)
	})
}

// Store holds sessions keyed by id.
type Store struct {
	api      Backend
	opts     Options
	logger   *slog.Logger
	sessions *Cache[*Session]
}

// NewStore creates an empty Store.
func NewStore(api Backend, opts Options, logger *slog.Logger) *Store {
	st := &Store{api: api, opts: opts, logger: logger}
	st.sessions = NewCache(opts.TTL, func(id string, s *Session) {
		logger.Debug("session closed", "session", id)
		s.close()
		if opts.Metrics != nil {
			opts.Metrics.SessionClosed()
		}
	}).KeepWhile((*Session).watched)
	return st
}

// Get returns a live session.
func (st *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	return st.sessions.Get(id)
}

// Resolve returns the session for id, or a new one when id is unknown,
// malformed or expired. created reports whether a new id was issued.
func (st *Store) Resolve(id string) (s *Session, created bool) {
	if _, err := uuid.Parse(id); err == nil {
		if s, ok := st.sessions.Get(id); ok {
			return s, false
		}
	}
	return st.create(), true
}

func (st *Store) create() *Session {
	id := uuid.NewString()
	logger := st.logger.With("session", id)
	s := &Session{
		ID:    id,
		Map:   routedata.New(st.api, st.opts.Route, logger),
		stops: NewCache[*stoproutes.Loader](stopTTL, nil),
		done:  make(chan struct{}),
	}
	s.newFn = func(stopID string) *stoproutes.Loader {
		return stoproutes.NewLoader(stopID, st.api, st.opts.ActiveProbeMaxAge, st.opts.ProbeConcurrency, logger)
	}
	st.sessions.Set(id, s)
	if st.opts.Metrics != nil {
		st.opts.Metrics.SessionOpened()
	}
	logger.Debug("session opened")
	return s
}

// Len returns the number of sessions held.
func (st *Store) Len() int {
	return st.sessions.Len()
}

// Run expires idle sessions and stop loaders until ctx is cancelled.
func (st *Store) Run(ctx context.Context) {
	h := poll.Every(ctx, cleanupInterval, func(ctx context.Context) {
		st.sweep()
	})
	<-h.Done()
}

func (st *Store) sweep() {
	if n := st.sessions.cleanup(); n > 0 {
		st.logger.Info("expired idle sessions", "count", n, "remaining", st.sessions.Len())
	}
	st.sessions.Each(func(_ string, s *Session) {
		s.stops.cleanup()
	})
}

// Close ends every session.
func (st *Store) Close() {
	st.sessions.Clear()
}

type ctxKey struct{}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by NewContext.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}
