package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/index"
)

type fakeTarget struct {
	mu       sync.Mutex
	indexed  []string
	removed  []string
	known    map[string]bool
	failWith map[string]error
}

func (f *fakeTarget) IndexFile(_ context.Context, path string) (*index.IndexProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWith[path]; err != nil {
		return nil, err
	}
	f.indexed = append(f.indexed, path)
	return &index.IndexProgress{FilesIndexed: 1}, nil
}

func (f *fakeTarget) RemoveFile(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWith[path]; err != nil {
		return false, err
	}
	f.removed = append(f.removed, path)
	return f.known[path], nil
}

func TestApplyBatch_DispatchesByOperation(t *testing.T) {
	// Given: a batch with each kind of change
	target := &fakeTarget{known: map[string]bool{"/d/gone.txt": true}}
	batch := []FileEvent{
		{Path: "/d/gone.txt", Operation: OpDelete},
		{Path: "/d/new.txt", Operation: OpCreate},
		{Path: "/d/edit.txt", Operation: OpModify},
		{Path: "/d/never.txt", Operation: OpDelete},
	}

	// When: it is applied
	res, err := ApplyBatch(context.Background(), target, batch)

	// Then: creates and modifies are indexed, deletes removed
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/new.txt", "/d/edit.txt"}, target.indexed)
	assert.Equal(t, []string{"/d/gone.txt", "/d/never.txt"}, target.removed)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, res.Failed)
}

func TestApplyBatch_RecoverableFailureContinues(t *testing.T) {
	// Given: a file that vanished before it could be indexed
	target := &fakeTarget{failWith: map[string]error{
		"/d/a.txt": nexuserrors.New(nexuserrors.ErrCodeFileNotFound, "gone", nil),
	}}
	batch := []FileEvent{
		{Path: "/d/a.txt", Operation: OpCreate},
		{Path: "/d/b.txt", Operation: OpCreate},
	}

	// When: the batch is applied
	res, err := ApplyBatch(context.Background(), target, batch)

	// Then: the failure is counted and the rest is applied
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "/d/a.txt", res.Errors[0].Path)
	assert.Equal(t, nexuserrors.ErrCodeFileNotFound, res.Errors[0].Kind)
	assert.Equal(t, []string{"/d/b.txt"}, target.indexed)
}

func TestApplyBatch_FatalErrorStops(t *testing.T) {
	// Given: a store that fails to write
	target := &fakeTarget{failWith: map[string]error{
		"/d/a.txt": nexuserrors.StoreWriteError("lexical", errors.New("disk full")),
	}}
	batch := []FileEvent{
		{Path: "/d/a.txt", Operation: OpModify},
		{Path: "/d/b.txt", Operation: OpModify},
	}

	// When: the batch is applied
	_, err := ApplyBatch(context.Background(), target, batch)

	// Then: it stops at the fatal error
	require.Error(t, err)
	assert.True(t, nexuserrors.IsFatal(err))
	assert.Empty(t, target.indexed)
}

func TestApplyBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ApplyBatch(ctx, &fakeTarget{}, []FileEvent{{Path: "/d/a.txt"}})

	assert.ErrorIs(t, err, context.Canceled)
}

type chanSource struct {
	events chan []FileEvent
	errs   chan error
}

func (c chanSource) Events() <-chan []FileEvent { return c.events }
func (c chanSource) Errors() <-chan error       { return c.errs }

func TestApply_ReportsEachBatchUntilClosed(t *testing.T) {
	// Given: a source with two batches and a watch error
	src := chanSource{events: make(chan []FileEvent, 2), errs: make(chan error, 1)}
	src.errs <- errors.New("queue overflow")
	src.events <- []FileEvent{{Path: "/d/a.txt", Operation: OpCreate}}
	src.events <- []FileEvent{{Path: "/d/b.txt", Operation: OpCreate}}
	close(src.events)
	target := &fakeTarget{}

	// When: applied until the source closes
	var reports []BatchResult
	err := Apply(context.Background(), src, target, func(r BatchResult) {
		reports = append(reports, r)
	})

	// Then: both batches are applied and reported
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.ElementsMatch(t, []string{"/d/a.txt", "/d/b.txt"}, target.indexed)
}

func TestApply_StopsOnContext(t *testing.T) {
	src := chanSource{events: make(chan []FileEvent), errs: make(chan error)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Apply(ctx, src, &fakeTarget{}, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
