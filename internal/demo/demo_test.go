package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/taskflow"
)

var categories = []Category{{1, "books"}, {2, "music"}, {3, "games"}}

func TestRefresh(t *testing.T) {
	sched := taskflow.NewScheduler()
	defer sched.Shutdown(context.Background())

	repo := NewRepository(&StaticSource{Items: categories, Latency: 5 * time.Millisecond}, sched.IO(), 0, nil)
	view := NewView(sched.Main(), nil)
	store := NewStore()

	err := sched.Run(context.Background(), func(ctx context.Context, _ *taskflow.Scope) error {
		return Refresh(ctx, repo, view, store)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"#1 books", "#2 music", "#3 games"}, view.Rendered())
	assert.Equal(t, 3, store.Len())
	c, ok := store.Get(2)
	require.True(t, ok)
	assert.Equal(t, "music", c.Title)
}

func TestRefresh_SourceFailure(t *testing.T) {
	sched := taskflow.NewScheduler()
	defer sched.Shutdown(context.Background())

	repo := NewRepository(&StaticSource{Fail: true}, sched.IO(), 0, nil)
	err := Refresh(context.Background(), repo, NewView(sched.Main(), nil), NewStore())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRepository_Stream(t *testing.T) {
	sched := taskflow.NewScheduler()
	defer sched.Shutdown(context.Background())

	repo := NewRepository(&StaticSource{Items: categories}, sched.IO(), 0, nil)
	got, err := repo.Stream().ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, categories, got)
}

func TestRepository_RateLimited(t *testing.T) {
	sched := taskflow.NewScheduler()
	defer sched.Shutdown(context.Background())

	repo := NewRepository(&StaticSource{Items: categories}, sched.IO(), 20, nil)
	start := time.Now()
	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		for range 3 {
			if _, err := repo.Fetch(sc).Await(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	// Burst of one: the second and third request wait 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

type mockSource struct{ mock.Mock }

func (m *mockSource) Categories(ctx context.Context) ([]Category, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]Category)
	return items, args.Error(1)
}

func TestRepository_StreamFetchesPerCollection(t *testing.T) {
	sched := taskflow.NewScheduler()
	defer sched.Shutdown(context.Background())

	src := new(mockSource)
	src.On("Categories", mock.Anything).Return(categories[:1], nil).Once()
	src.On("Categories", mock.Anything).Return(nil, ErrUnavailable).Once()

	repo := NewRepository(src, sched.IO(), 0, nil)
	s := repo.Stream()

	got, err := s.ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, categories[:1], got)

	_, err = s.ToSlice(context.Background())
	var up *taskflow.UpstreamError
	require.ErrorAs(t, err, &up)
	assert.ErrorIs(t, err, ErrUnavailable)

	src.AssertExpectations(t)
	src.AssertNumberOfCalls(t, "Categories", 2)
}
