// Package demo holds the collaborators used by the CLI demonstrations: a
// repository standing in for a remote data source, a view that renders
// values on the main dispatcher and an in-memory store.
package demo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/flow"
	"github.com/baxromumarov/taskflow/logging"
)

// ErrUnavailable is returned by a Source that is configured to fail.
var ErrUnavailable = errors.New("demo: source unavailable")

// Category is one record served by the repository.
type Category struct {
	ID    int
	Title string
}

// Source fetches categories. It stands in for a remote API.
type Source interface {
	Categories(ctx context.Context) ([]Category, error)
}

// StaticSource serves a fixed list after a simulated round trip.
type StaticSource struct {
	Items   []Category
	Latency time.Duration
	Fail    bool
}

// Categories implements Source.
func (s *StaticSource) Categories(ctx context.Context) ([]Category, error) {
	if err := taskflow.Delay(ctx, s.Latency); err != nil {
		return nil, err
	}
	if s.Fail {
		return nil, ErrUnavailable
	}
	return append([]Category(nil), s.Items...), nil
}

// Repository fetches from a Source on an IO dispatcher, at most rps
// requests per second.
type Repository struct {
	src     Source
	io      *taskflow.Dispatcher
	limiter *rate.Limiter
	logger  logging.Logger
}

// NewRepository creates a Repository. rps <= 0 disables pacing.
func NewRepository(src Source, io *taskflow.Dispatcher, rps float64, logger logging.Logger) *Repository {
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Repository{src: src, io: io, limiter: lim, logger: logger}
}

// Fetch runs one request as a result-bearing task of sc and returns its
// handle.
func (r *Repository) Fetch(sc *taskflow.Scope) *taskflow.Deferred[[]Category] {
	return taskflow.Async(sc, func(ctx context.Context, _ *taskflow.Scope) ([]Category, error) {
		return r.fetch(ctx)
	}, taskflow.Named("repository.fetch"), taskflow.OnDispatcher(r.io))
}

// Stream returns a cold stream of the categories of one request per
// collection.
func (r *Repository) Stream() *flow.Stream[Category] {
	batches := flow.FromAsync(r.fetch, taskflow.OnDispatcher(r.io))
	return flow.Transform(batches, func(ctx context.Context, items []Category, emit flow.Emitter[Category]) error {
		for _, c := range items {
			if err := emit(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) fetch(ctx context.Context) ([]Category, error) {
	err := taskflow.Suspend(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return taskflow.EnsureActive(ctx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	items, err := r.src.Categories(ctx)
	if err != nil {
		if !taskflow.IsCancellation(err) {
			r.logger.Warn("fetch failed", "error", err)
		}
		return nil, err
	}
	r.logger.Debug("fetched categories", "count", len(items), "elapsed", time.Since(start))
	return items, nil
}

// View renders values. Render runs on the main dispatcher, one call at a
// time.
type View struct {
	main   *taskflow.Dispatcher
	logger logging.Logger

	mu       sync.Mutex
	rendered []string
}

// NewView creates a View bound to main.
func NewView(main *taskflow.Dispatcher, logger logging.Logger) *View {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &View{main: main, logger: logger}
}

// Render switches to the main dispatcher and records c.
func (v *View) Render(ctx context.Context, c Category) error {
	return taskflow.WithDispatcher(ctx, v.main, func(ctx context.Context) error {
		line := fmt.Sprintf("#%d %s", c.ID, c.Title)
		v.mu.Lock()
		v.rendered = append(v.rendered, line)
		v.mu.Unlock()
		v.logger.Info("render", "category", line)
		return nil
	})
}

// Rendered returns every line rendered so far.
func (v *View) Rendered() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.rendered...)
}

// Store keeps the latest copy of every category by id.
type Store struct {
	mu    sync.RWMutex
	items map[int]Category
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{items: make(map[int]Category)}
}

// Save stores c. It is a stream collector.
func (s *Store) Save(_ context.Context, c Category) error {
	s.mu.Lock()
	s.items[c.ID] = c
	s.mu.Unlock()
	return nil
}

// Get returns the stored category with id.
func (s *Store) Get(id int) (Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	return c, ok
}

// Len returns the number of stored categories.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Refresh fetches once, saves everything to store and renders it to view.
// Rendering and saving run as sibling tasks; a failure of either cancels
// the other.
func Refresh(ctx context.Context, repo *Repository, view *View, store *Store) error {
	return taskflow.Run(ctx, func(ctx context.Context, sc *taskflow.Scope) error {
		items, err := repo.Fetch(sc).Await(ctx)
		if err != nil {
			return err
		}
		sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
			return flow.FromSlice(items).Collect(ctx, store.Save)
		}, taskflow.Named("store"))
		sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
			return flow.FromSlice(items).Collect(ctx, view.Render)
		}, taskflow.Named("view"))
		return nil
	}, taskflow.WithName("refresh"))
}
