package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestCreate(t *testing.T) {
	r := newTestRegistry(t)

	info, err := r.Create("ad_hoc", []string{"alpha", "beta", "alpha"}, "alpha")
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "ad_hoc", info.Kind)
	assert.Equal(t, "alpha", info.Initiator)
	assert.Equal(t, []string{"alpha", "beta"}, info.Participants, "duplicates collapse, order preserved")
	assert.Equal(t, Active, info.Status)
	assert.False(t, info.OversightRequired)
	assert.Zero(t, info.MessageCount)
}

func TestCreateInvalidParticipants(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create("ad_hoc", nil, "alpha")
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = r.Create("ad_hoc", []string{"beta"}, "alpha")
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = r.Create("ad_hoc", []string{""}, "")
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestOversightKinds(t *testing.T) {
	r := newTestRegistry(t)

	info, err := r.Create("collective_decision", []string{"alpha", "beta"}, "alpha")
	require.NoError(t, err)
	assert.True(t, info.OversightRequired)

	info, err = r.Create("watercooler", []string{"alpha"}, "alpha")
	require.NoError(t, err)
	assert.False(t, info.OversightRequired)
}

func TestCustomOversightKinds(t *testing.T) {
	r, err := NewRegistry(WithOversightKinds("secret_council"))
	require.NoError(t, err)

	info, err := r.Create("secret_council", []string{"alpha"}, "alpha")
	require.NoError(t, err)
	assert.True(t, info.OversightRequired)

	info, err = r.Create("collective_decision", []string{"alpha"}, "alpha")
	require.NoError(t, err)
	assert.False(t, info.OversightRequired, "defaults are replaced, not merged")
}

func TestAddParticipantIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	info, err := r.Create("ad_hoc", []string{"alpha"}, "alpha")
	require.NoError(t, err)

	require.NoError(t, r.AddParticipant(info.ID, "beta"))
	require.NoError(t, r.AddParticipant(info.ID, "beta"))

	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, got.Participants)

	assert.ErrorIs(t, r.AddParticipant("missing", "beta"), ErrNotFound)
}

func TestRecordActivity(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	r, err := NewRegistry(WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	info, err := r.Create("ad_hoc", []string{"alpha"}, "alpha")
	require.NoError(t, err)

	require.NoError(t, r.RecordActivity(info.ID))
	require.NoError(t, r.RecordActivity(info.ID))

	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, now, time.Time(got.LastActivity))

	assert.ErrorIs(t, r.RecordActivity("missing"), ErrNotFound)
}

func TestRecordActivityConcurrent(t *testing.T) {
	r := newTestRegistry(t)
	info, err := r.Create("ad_hoc", []string{"alpha"}, "alpha")
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RecordActivity(info.ID))
		}()
	}
	wg.Wait()

	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.MessageCount)
}

func TestClose(t *testing.T) {
	var closed []Info
	r, err := NewRegistry(WithCloseHook(func(info Info) {
		closed = append(closed, info)
	}))
	require.NoError(t, err)

	info, err := r.Create("ad_hoc", []string{"alpha"}, "alpha")
	require.NoError(t, err)

	require.NoError(t, r.Close(info.ID))
	require.NoError(t, r.Close(info.ID), "closing twice is a no-op")
	require.Len(t, closed, 1, "close hook fires once")
	assert.Equal(t, info.ID, closed[0].ID)

	assert.ErrorIs(t, r.RecordActivity(info.ID), ErrClosed)
	assert.ErrorIs(t, r.AddParticipant(info.ID, "beta"), ErrClosed)

	got, err := r.Get(info.ID)
	require.NoError(t, err, "closed conversations remain queryable")
	assert.Equal(t, Closed, got.Status)

	assert.ErrorIs(t, r.Close("missing"), ErrNotFound)
}

func TestSnapshotRestore(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Create("collective_decision", []string{"alpha", "beta"}, "alpha")
	require.NoError(t, err)
	require.NoError(t, r.RecordActivity(a.ID))
	b, err := r.Create("ad_hoc", []string{"gamma"}, "gamma")
	require.NoError(t, err)
	require.NoError(t, r.Close(b.ID))

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)

	restored := newTestRegistry(t)
	restored.Restore(snapshot)

	gotA, err := restored.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotA.MessageCount)
	assert.True(t, gotA.OversightRequired)
	assert.Equal(t, []string{"alpha", "beta"}, gotA.Participants)

	gotB, err := restored.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, Closed, gotB.Status)
}

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{Active, Closed} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var parsed Status
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, s, parsed)
	}
}
