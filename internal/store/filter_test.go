package store

import (
	"context"
	"testing"

	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store) {
	t.Helper()
	insertAll(t, s,
		record("net", "error-1", 1, "connect failed"),
		record("net", "warning", 2, "slow response"),
		record("db", "my-error", 3, "query 100% done", "rows_affected=3"),
		record("ui", "errand", 4),
		record("db", "ERROR", 5, "disk full"),
	)
}

func labels(recs []models.StoredRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Label)
	}
	return out
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	total, err := s.Count(ctx)
	require.NoError(t, err)
	filtered, err := s.FilteredCount(ctx, models.FilterConfig{})
	require.NoError(t, err)
	assert.Equal(t, total, filtered)

	recs, err := s.FilteredFetch(ctx, models.FilterConfig{}, models.FieldID, 100, 0, models.Asc)
	require.NoError(t, err)
	assert.Len(t, recs, int(total))
}

func TestStringPatterns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	cases := []struct {
		name    string
		pattern *models.StringPattern
		want    []string
	}{
		{"contain", models.Pattern(models.PatternContain, "err"), []string{"error-1", "my-error", "errand", "ERROR"}},
		{"start", models.Pattern(models.PatternStart, "err"), []string{"error-1", "errand", "ERROR"}},
		{"end", models.Pattern(models.PatternEnd, "error"), []string{"my-error", "ERROR"}},
		{"equal", models.Pattern(models.PatternEqual, "warning"), []string{"warning"}},
		{"equal is case sensitive", models.Pattern(models.PatternEqual, "error"), []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := models.FilterConfig{Label: tc.pattern}
			recs, err := s.FilteredFetch(ctx, f, models.FieldID, 100, 0, models.Asc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, labels(recs))

			n, err := s.FilteredCount(ctx, f)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tc.want)), n)
		})
	}
}

func TestContainMatchesSubstringOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertAll(t, s, record("a", "error-1", 1), record("a", "warning", 1))

	recs, err := s.FilteredFetch(ctx, models.FilterConfig{Label: models.Pattern(models.PatternContain, "err")}, models.FieldID, 10, 0, models.Asc)
	require.NoError(t, err)
	assert.Equal(t, []string{"error-1"}, labels(recs))
}

func TestPatternWildcardsAreLiteral(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertAll(t, s, record("a", "100%", 1), record("a", "1000", 1), record("a", "a_b", 1), record("a", "axb", 1))

	recs, err := s.FilteredFetch(ctx, models.FilterConfig{Label: models.Pattern(models.PatternContain, "%")}, models.FieldID, 10, 0, models.Asc)
	require.NoError(t, err)
	assert.Equal(t, []string{"100%"}, labels(recs))

	recs, err = s.FilteredFetch(ctx, models.FilterConfig{Label: models.Pattern(models.PatternContain, "_")}, models.FieldID, 10, 0, models.Asc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_b"}, labels(recs))
}

func TestValuesAreBoundNotInterpolated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	hostile := "x'; DROP TABLE log_messages; --"
	for _, mode := range []models.PatternMode{models.PatternEqual, models.PatternContain, models.PatternStart, models.PatternEnd} {
		n, err := s.FilteredCount(ctx, models.FilterConfig{Label: models.Pattern(mode, hostile), Messages: models.Pattern(mode, hostile)})
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	total, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestMessagesPattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	recs, err := s.FilteredFetch(ctx, models.FilterConfig{Messages: models.Pattern(models.PatternContain, "full")}, models.FieldID, 10, 0, models.Asc)
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR"}, labels(recs))

	recs, err = s.FilteredFetch(ctx, models.FilterConfig{Messages: models.Pattern(models.PatternEqual, "rows_affected=3")}, models.FieldID, 10, 0, models.Asc)
	require.NoError(t, err)
	assert.Equal(t, []string{"my-error"}, labels(recs))

	recs, err = s.FilteredFetch(ctx, models.FilterConfig{Messages: models.Pattern(models.PatternStart, "slow")}, models.FieldID, 10, 0, models.Asc)
	require.NoError(t, err)
	assert.Equal(t, []string{"warning"}, labels(recs))
}

func TestNumberRanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	recs, err := s.FilteredFetch(ctx, models.FilterConfig{Level: models.AtLeast(3)}, models.FieldID, 10, 0, models.Asc)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.GreaterOrEqual(t, r.Level, int32(3))
	}

	n, err := s.FilteredCount(ctx, models.FilterConfig{Level: models.AtMost(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.FilteredCount(ctx, models.FilterConfig{Level: models.Range(2, 4)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.FilteredCount(ctx, models.FilterConfig{Level: &models.NumberRange{}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.FilteredCount(ctx, models.FilterConfig{Time: models.AtLeast(1700000004), ProcessID: models.Range(100, 100), ThreadID: models.AtMost(7), Line: models.Range(12, 12)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestConditionsAreConjoined(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	f := models.FilterConfig{
		Role:  models.Pattern(models.PatternEqual, "db"),
		Label: models.Pattern(models.PatternContain, "err"),
		Level: models.AtLeast(4),
	}
	recs, err := s.FilteredFetch(ctx, f, models.FieldID, 10, 0, models.Asc)
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR"}, labels(recs))
}

func TestFilteredFetchOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	recs, err := s.FilteredFetch(ctx, models.FilterConfig{}, models.FieldLevel, 2, 0, models.Desc)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int32(5), recs[0].Level)
	assert.Equal(t, int32(4), recs[1].Level)

	recs, err = s.FilteredFetch(ctx, models.FilterConfig{}, models.FieldRole, 10, 0, models.Asc)
	require.NoError(t, err)
	roles := make([]string, 0, len(recs))
	for _, r := range recs {
		roles = append(roles, r.Role)
	}
	assert.Equal(t, []string{"db", "db", "net", "net", "ui"}, roles)
	// ties broken by id
	assert.Less(t, recs[0].ID, recs[1].ID)

	page, err := s.FilteredFetch(ctx, models.FilterConfig{}, models.FieldRole, 2, 2, models.Asc)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, recs[2].ID, page[0].ID)
}

func TestDistinct(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertAll(t, s, record("a", "", 3), record("b", "", 1), record("a", "", 3), record("c", "", 2))

	roles, err := s.Distinct(ctx, models.FieldRole)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, roles)

	levels, err := s.Distinct(ctx, models.FieldLevel)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, levels)

	pids, err := s.Distinct(ctx, models.FieldProcessID)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(100)}, pids)
}

func TestDistinctUnsignedOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	big := record("a", "", 1)
	big.Time = 1 << 63
	small := record("a", "", 1)
	small.Time = 5
	insertAll(t, s, big, small)

	times, err := s.Distinct(ctx, models.FieldTime)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(5), uint64(1 << 63)}, times)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	n, err := s.Delete(ctx, models.FilterConfig{Role: models.Pattern(models.PatternEqual, "nobody")})
	require.NoError(t, err)
	assert.Zero(t, n)
	total, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	n, err = s.Delete(ctx, models.FilterConfig{Role: models.Pattern(models.PatternEqual, "net")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Delete(ctx, models.FilterConfig{Messages: models.Pattern(models.PatternContain, "disk")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	before, err := s.Count(ctx)
	require.NoError(t, err)
	n, err = s.Delete(ctx, models.FilterConfig{})
	require.NoError(t, err)
	assert.Equal(t, before, n)

	after, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, after)
}

func TestUndefinedPatternModeIsAnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	for _, f := range []models.FilterConfig{
		{Label: models.Pattern(models.PatternMode(9), "err")},
		{Messages: models.Pattern(models.PatternMode(-1), "disk")},
	} {
		_, err := s.FilteredFetch(ctx, f, models.FieldID, 10, 0, models.Asc)
		assert.ErrorIs(t, err, ErrStore)

		_, err = s.FilteredCount(ctx, f)
		assert.ErrorIs(t, err, ErrStore)

		n, err := s.Delete(ctx, f)
		assert.ErrorIs(t, err, ErrStore)
		assert.Zero(t, n)
	}

	total, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total, "a rejected filter must not delete anything")
}

func TestUnsignedRangesCompareUnsigned(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := func(tm uint64) *models.Record {
		r := record("a", "", 1)
		r.Time = tm
		return r
	}
	insertAll(t, s, at(5), at(1<<62), at(1<<63), at(1<<64-1))

	u := func(v uint64) *uint64 { return &v }
	times := func(t *testing.T, f models.FilterConfig) []uint64 {
		t.Helper()
		recs, err := s.FilteredFetch(ctx, f, models.FieldID, 10, 0, models.Asc)
		require.NoError(t, err)
		out := make([]uint64, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.Time)
		}
		return out
	}

	cases := []struct {
		name string
		rng  *models.NumberRange
		want []uint64
	}{
		{"from zero", models.UnsignedRange(u(0), nil), []uint64{5, 1 << 62, 1 << 63, 1<<64 - 1}},
		{"above 2^62", models.UnsignedRange(u(1<<62+1), nil), []uint64{1 << 63, 1<<64 - 1}},
		{"from 2^63", models.UnsignedRange(u(1<<63), nil), []uint64{1 << 63, 1<<64 - 1}},
		{"up to 2^62", models.UnsignedRange(nil, u(1<<62)), []uint64{5, 1 << 62}},
		{"up to 2^63", models.UnsignedRange(nil, u(1<<63)), []uint64{5, 1 << 62, 1 << 63}},
		{"between", models.UnsignedRange(u(6), u(1<<63)), []uint64{1 << 62, 1 << 63}},
		{"top only", models.UnsignedRange(u(1<<64-1), u(1<<64-1)), []uint64{1<<64 - 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, times(t, models.FilterConfig{Time: tc.rng}))
		})
	}

	// Signed columns keep signed order.
	neg := record("a", "", -3)
	insertAll(t, s, neg)
	n, err := s.FilteredCount(ctx, models.FilterConfig{Level: models.AtLeast(0)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
