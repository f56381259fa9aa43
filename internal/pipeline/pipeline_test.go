package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobArchiver struct {
	since, until time.Time
	n            int64
	err          error
}

func (f *fakeBlobArchiver) ArchiveAlerts(_ context.Context, since, until time.Time) (int64, error) {
	f.since, f.until = since, until
	return f.n, f.err
}

type fakePruner struct {
	before time.Time
	called bool
}

func (f *fakePruner) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.called = true
	f.before = before
	return 7, nil
}

func newTestArchiver(blob *fakeBlobArchiver, pruner *fakePruner, days int, now time.Time) *Archiver {
	a := NewArchiver(nil, nil, days, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if blob != nil {
		a.blobArchiver = blob
	}
	if pruner != nil {
		a.pruner = pruner
	}
	a.now = func() time.Time { return now }
	return a
}

func TestArchiverRunArchivesPreviousMonth(t *testing.T) {
	now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	blob := &fakeBlobArchiver{n: 12}
	pruner := &fakePruner{}
	a := newTestArchiver(blob, pruner, 90, now)

	report, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), blob.since)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), blob.until)
	assert.Equal(t, int64(12), report.Archived)
	assert.Equal(t, int64(7), report.Pruned)
	assert.Equal(t, now.Add(-90*24*time.Hour), pruner.before)
}

func TestArchiverPruneNeverPassesArchivedRange(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	a := newTestArchiver(&fakeBlobArchiver{}, pruner, 1, now)

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), pruner.before)
	assert.Equal(t, pruner.before, report.Cutoff)
}

func TestArchiverArchiveFailureSkipsPrune(t *testing.T) {
	pruner := &fakePruner{}
	a := newTestArchiver(&fakeBlobArchiver{err: errors.New("s3 down")}, pruner, 30, time.Now())

	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.False(t, pruner.called)
}

func TestArchiverPruneOnly(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	a := newTestArchiver(nil, pruner, 1, now)

	_, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), pruner.before)
}

func TestArchiverRunCronStopsOnCancel(t *testing.T) {
	a := newTestArchiver(nil, nil, 0, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.RunCron(ctx, "0 3 1 * *")
	assert.ErrorIs(t, err, context.Canceled)

	err = a.RunCron(context.Background(), "bad")
	assert.Error(t, err)
}

func TestParseCronFieldForms(t *testing.T) {
	cases := []struct {
		field string
		want  []int
	}{
		{"5", []int{5}},
		{"1,15", []int{1, 15}},
		{"1-3", []int{1, 2, 3}},
		{"*/20", []int{0, 20, 40}},
		{"10-30/10", []int{10, 20, 30}},
		{"50/5", []int{50, 55}},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			f, err := parseCronField(tc.field, 0, 59)
			require.NoError(t, err)
			var got []int
			for v := 0; v <= 59; v++ {
				if f.matches(v) {
					got = append(got, v)
				}
			}
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{"x", "60", "5-1", "*/0", "1-x"} {
		_, err := parseCronField(bad, 0, 59)
		assert.Error(t, err, bad)
	}
}

func TestCronNext(t *testing.T) {
	c, err := parseCron("0 3 1 * *")
	require.NoError(t, err)

	next, err := c.next(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC), next)

	c, err = parseCron("*/15 * * * *")
	require.NoError(t, err)
	next, err = c.next(time.Date(2026, 1, 1, 0, 7, 30, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC), next)

	assert.Error(t, ValidateCron("0 3 * *"))
	assert.NoError(t, ValidateCron("30 2 * * 1-5"))
}
