package handles

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/ids"
)

func TestAddHandleDenseAllocation(t *testing.T) {
	r := New(1)
	a, err := r.AddHandle(0, 1, KindPublication, "x", "double", "")
	require.NoError(t, err)
	b, err := r.AddHandle(0, 1, KindInput, "y", "double", "")
	require.NoError(t, err)
	require.Equal(t, ids.InterfaceHandle(1), a.Global.Handle)
	require.Equal(t, ids.InterfaceHandle(2), b.Global.Handle)
}

func TestAddHandleDuplicateNameRejected(t *testing.T) {
	r := New(1)
	_, err := r.AddHandle(0, 1, KindEndpoint, "e1", "", "")
	require.NoError(t, err)
	_, err = r.AddHandle(0, 1, KindEndpoint, "e1", "", "")
	require.Error(t, err)
}

func TestHandleIdsNeverReused(t *testing.T) {
	r := New(1)
	first, _ := r.AddHandle(0, 1, KindFilter, "f1", "", "")
	require.NoError(t, r.MarkDisconnected(first.Global.Handle))
	second, _ := r.AddHandle(0, 1, KindFilter, "f2", "", "")
	require.NotEqual(t, first.Global.Handle, second.Global.Handle)
}

func TestDisconnectIdempotent(t *testing.T) {
	r := New(1)
	rec, _ := r.AddHandle(0, 1, KindEndpoint, "e1", "", "")
	require.NoError(t, r.MarkDisconnected(rec.Global.Handle))
	require.NoError(t, r.MarkDisconnected(rec.Global.Handle))
	require.True(t, rec.Flags.Has(FlagDisconnected))
}

func TestReadViewSyncIsolatesProcessingCopy(t *testing.T) {
	r := New(1)
	rec, _ := r.AddHandle(0, 1, KindPublication, "x", "double", "")
	view := NewReadView()
	view.Sync(r)

	found, ok := view.Find(KindPublication, "x")
	require.True(t, ok)
	require.Equal(t, rec.Global, found.Global)

	// Mutating the processing-loop copy must not retroactively change a
	// snapshot already handed to an API-thread reader.
	require.NoError(t, r.MarkUsed(rec.Global.Handle))
	stale, _ := view.Find(KindPublication, "x")
	require.False(t, stale.Flags.Has(FlagUsed))

	view.Sync(r)
	fresh, _ := view.Find(KindPublication, "x")
	require.True(t, fresh.Flags.Has(FlagUsed))
}

func TestByHandleMissing(t *testing.T) {
	r := New(1)
	_, ok := r.ByHandle(99)
	require.False(t, ok)
}
