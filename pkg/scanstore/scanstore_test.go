package scanstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/wafp/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	sess, err := s.CreateSession(ctx, "site_abc_httpexample.org/", "target=http://example.org/", at)
	require.NoError(t, err)
	assert.NotZero(t, sess.ID)
	assert.Equal(t, at, sess.CreatedAt)

	require.NoError(t, s.AppendResult(ctx, sess.ID, Result{Path: "/a", Checksum: "c1", StatusCode: 200}))
	require.NoError(t, s.AppendResult(ctx, sess.ID, Result{Path: "/b", Checksum: "c2", StatusCode: 404}))

	results, err := s.Results(ctx, sess.Name)
	require.NoError(t, err)
	assert.Equal(t, []Result{
		{Path: "/a", Checksum: "c1", StatusCode: 200},
		{Path: "/b", Checksum: "c2", StatusCode: 404},
	}, results)

	got, err := s.Session(ctx, sess.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Results)

	require.NoError(t, s.DeleteSession(ctx, sess.Name))

	_, err = s.Results(ctx, sess.Name)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st, "no rows may survive a delete")
}

func TestStore_DeleteKeepsOtherSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateSession(ctx, "a", "", time.Now())
	require.NoError(t, err)
	b, err := s.CreateSession(ctx, "b", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.AppendResult(ctx, a.ID, Result{Path: "/x", Checksum: "1", StatusCode: 200}))
	require.NoError(t, s.AppendResult(ctx, b.ID, Result{Path: "/x", Checksum: "2", StatusCode: 200}))

	require.NoError(t, s.DeleteSession(ctx, "a"))
	require.NoError(t, s.DeleteSession(ctx, "missing"))

	results, err := s.Results(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStore_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "dup", "", time.Now())
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "dup", "", time.Now())
	assert.Error(t, err)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "busy", "", time.Now())
	require.NoError(t, err)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendResult(ctx, sess.ID, Result{Path: fmt.Sprintf("/p%d", i), Checksum: "x", StatusCode: 200})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	results, err := s.Results(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, results, n)
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "prod_1_httpa/", "", time.Unix(100, 0))
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "2_httpb/", "", time.Unix(200, 0))
	require.NoError(t, err)
	require.NoError(t, s.AppendResult(ctx, first.ID, Result{Path: "/x", Checksum: "1", StatusCode: 200}))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "prod_1_httpa/", all[0].Name)
	assert.Equal(t, int64(1), all[0].Results)

	prod, err := s.List(ctx, "PROD%")
	require.NoError(t, err)
	require.Len(t, prod, 1)
	assert.Equal(t, first.ID, prod[0].ID)
}

func TestStore_LegacyTextColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.db.Exec(`INSERT INTO tbl_store (name, tstamp, info) VALUES ('legacy', '', 'not used, yet.')`).Error)
	var id int64
	require.NoError(t, s.db.Raw(`SELECT id FROM tbl_store WHERE name = 'legacy'`).Scan(&id).Error)
	require.NoError(t, s.db.Exec(`INSERT INTO tbl_results (store_id, csum, path, retcode) VALUES (?, 'abc', '/x', '')`, id).Error)

	results, err := s.Results(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, []Result{{Path: "/x", Checksum: "abc", StatusCode: 0}}, results)

	sess, err := s.Session(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sess.CreatedAt.Unix())
}
