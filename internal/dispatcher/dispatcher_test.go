package dispatcher

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/engine/internal/types"
)

type memStore struct {
	mu   sync.Mutex
	subs map[string]*types.Submission
}

func newMemStore() *memStore { return &memStore{subs: make(map[string]*types.Submission)} }

func (s *memStore) Get(ctx context.Context, id string) (*types.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id], nil
}

func (s *memStore) Save(ctx context.Context, sub *types.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *memStore) MarkTerminal(ctx context.Context, sub *types.Submission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.ID] = &cp
	return true, nil
}

type fakeRunner struct {
	delay  time.Duration
	status types.Status
}

func (r *fakeRunner) Execute(ctx context.Context, sub *types.Submission, events chan<- types.StreamEvent) error {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		sub.Status = types.StatusCancelled
		return nil
	}
	sub.Status = r.status
	return nil
}

func TestMemoryQueueOrdersByPriorityThenFIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Item{SubmissionID: "low", Priority: 0, EnqueuedAt: time.Unix(1, 0)}))
	require.NoError(t, q.Push(ctx, Item{SubmissionID: "high", Priority: 5, EnqueuedAt: time.Unix(2, 0)}))
	require.NoError(t, q.Push(ctx, Item{SubmissionID: "low2", Priority: 0, EnqueuedAt: time.Unix(3, 0)}))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", first.SubmissionID)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low", second.SubmissionID)

	third, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low2", third.SubmissionID)
}

func TestMemoryQueuePopBlocksUntilPush(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	result := make(chan Item, 1)
	go func() {
		item, err := q.Pop(ctx)
		require.NoError(t, err)
		result <- item
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(ctx, Item{SubmissionID: "x"}))

	select {
	case item := <-result:
		assert.Equal(t, "x", item.SubmissionID)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestMemoryQueueRemove(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, Item{SubmissionID: "a"}))
	require.NoError(t, q.Remove(ctx, "a"))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestRedisQueuePushPop(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, "engine:queue")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Item{SubmissionID: "s1", Priority: 1, EnqueuedAt: time.Unix(100, 0)}))
	require.NoError(t, q.Push(ctx, Item{SubmissionID: "s2", Priority: 3, EnqueuedAt: time.Unix(200, 0)}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	item, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", item.SubmissionID, "higher priority pops first")
}

func TestDispatcherSubmitRejectsWhenQueueFull(t *testing.T) {
	d := New(NewMemoryQueue(), newMemStore(), &fakeRunner{status: types.StatusAccepted}, nil, Config{MaxConcurrent: 1, MaxQueueSize: 1}, nil)
	ctx := context.Background()

	require.NoError(t, d.Submit(ctx, &types.Submission{ID: "1", CreatedAt: time.Now()}))
	err := d.Submit(ctx, &types.Submission{ID: "2", CreatedAt: time.Now()})
	require.Error(t, err)
	var full *ErrQueueFull
	assert.ErrorAs(t, err, &full)
}

func TestDispatcherRunsSubmittedWork(t *testing.T) {
	store := newMemStore()
	d := New(NewMemoryQueue(), store, &fakeRunner{status: types.StatusAccepted}, nil, Config{MaxConcurrent: 2, WorkerCount: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.NoError(t, d.Submit(ctx, &types.Submission{ID: "s1", CreatedAt: time.Now()}))

	require.Eventually(t, func() bool {
		sub, _ := store.Get(ctx, "s1")
		return sub != nil && sub.Status == types.StatusAccepted
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherSubmitIsIdempotent(t *testing.T) {
	store := newMemStore()
	q := NewMemoryQueue()
	d := New(q, store, &fakeRunner{status: types.StatusAccepted, delay: 200 * time.Millisecond}, nil, Config{MaxConcurrent: 1, WorkerCount: 1}, nil)

	sub := &types.Submission{ID: "dup", CreatedAt: time.Now()}
	require.NoError(t, d.Submit(context.Background(), sub))
	require.NoError(t, d.Submit(context.Background(), sub))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "resubmitting the same ID must not create a second queue entry")
}

func TestReconcileMarksOrphanedRunningSubmissionInternalError(t *testing.T) {
	store := newMemStore()
	workspaceRoot := t.TempDir()
	require.NoError(t, store.Save(context.Background(), &types.Submission{ID: "orphan", Status: types.StatusRunning}))
	require.NoError(t, os.MkdirAll(workspaceRoot+"/orphan", 0o755))

	d := New(NewMemoryQueue(), store, &fakeRunner{status: types.StatusAccepted}, nil, Config{MaxConcurrent: 1, WorkspaceRoot: workspaceRoot}, nil)

	sub, _ := store.Get(context.Background(), "orphan")
	require.NoError(t, d.Reconcile(context.Background(), []*types.Submission{sub}))

	got, _ := store.Get(context.Background(), "orphan")
	assert.Equal(t, types.StatusInternalError, got.Status)
	assert.Equal(t, "engine restart", got.Message)
}

func TestReconcileRequeuesSubmissionWithNoWorkspace(t *testing.T) {
	store := newMemStore()
	workspaceRoot := t.TempDir()
	require.NoError(t, store.Save(context.Background(), &types.Submission{ID: "stale", Status: types.StatusRunning}))

	q := NewMemoryQueue()
	d := New(q, store, &fakeRunner{status: types.StatusAccepted}, nil, Config{MaxConcurrent: 1, WorkspaceRoot: workspaceRoot}, nil)

	sub, _ := store.Get(context.Background(), "stale")
	require.NoError(t, d.Reconcile(context.Background(), []*types.Submission{sub}))

	got, _ := store.Get(context.Background(), "stale")
	assert.Equal(t, types.StatusQueued, got.Status)
	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDispatcherCancelRunning(t *testing.T) {
	store := newMemStore()
	d := New(NewMemoryQueue(), store, &fakeRunner{status: types.StatusAccepted, delay: 500 * time.Millisecond}, nil, Config{MaxConcurrent: 1, WorkerCount: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.NoError(t, d.Submit(ctx, &types.Submission{ID: "s2", CreatedAt: time.Now()}))

	require.Eventually(t, func() bool {
		sub, _ := store.Get(ctx, "s2")
		return sub != nil && sub.Status == types.StatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Cancel(ctx, "s2"))

	require.Eventually(t, func() bool {
		sub, _ := store.Get(ctx, "s2")
		return sub != nil && sub.Status == types.StatusCancelled
	}, time.Second, 5*time.Millisecond)
}
