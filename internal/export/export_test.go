package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/internal/storage"
	"github.com/X-ChenD-Hai/xclogger-server/internal/store"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, pageSize int) (*Exporter, *store.Store, *storage.LocalBackend) {
	t.Helper()
	st := store.New(zerolog.Nop())
	require.NoError(t, st.ConnectDataDir(t.TempDir()))
	t.Cleanup(func() { st.Close() })

	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	return New(st, backend, Config{PageSize: pageSize}, zerolog.Nop()), st, backend
}

func insert(t *testing.T, st *store.Store, role string, level int32, msg string) {
	t.Helper()
	_, err := st.Insert(context.Background(), &models.Record{
		Role:     role,
		Label:    "l",
		File:     "f.cc",
		Function: "fn",
		Time:     uint64(level),
		Level:    level,
		Messages: []string{msg},
	})
	require.NoError(t, err)
}

func TestExportAll(t *testing.T) {
	e, st, backend := setup(t, 2)
	for i := int32(0); i < 5; i++ {
		insert(t, st, "app", i, "m")
	}

	ctx := context.Background()
	res, err := e.Export(ctx, models.FilterConfig{}, models.FieldID, models.Asc)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Records)
	assert.Positive(t, res.Bytes)
	assert.Equal(t, "local", res.Backend)

	info, err := backend.Stat(ctx, res.Path)
	require.NoError(t, err)
	assert.Equal(t, res.Bytes, info.Size)

	got, err := e.Read(ctx, res.Path)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, rec := range got {
		assert.Equal(t, uint64(i+1), rec.ID)
		assert.Equal(t, int32(i), rec.Level)
		assert.Equal(t, []string{"m"}, rec.Messages)
	}
}

func TestExportFilteredDescending(t *testing.T) {
	e, st, _ := setup(t, 1000)
	insert(t, st, "app", 1, "a")
	insert(t, st, "db", 2, "b")
	insert(t, st, "app", 3, "c")

	f := models.FilterConfig{Role: models.Pattern(models.PatternEqual, "app")}
	res, err := e.Export(context.Background(), f, models.FieldLevel, models.Desc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Records)

	got, err := e.Read(context.Background(), res.Path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int32(3), got[0].Level)
	assert.Equal(t, int32(1), got[1].Level)
}

func TestExportEmpty(t *testing.T) {
	e, _, _ := setup(t, 10)

	res, err := e.Export(context.Background(), models.FilterConfig{}, models.FieldID, models.Asc)
	require.NoError(t, err)
	assert.Zero(t, res.Records)

	got, err := e.Read(context.Background(), res.Path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestObjectPath(t *testing.T) {
	e, _, _ := setup(t, 10)
	ts := time.Date(2026, 3, 7, 14, 5, 9, 0, time.UTC)

	p := e.ObjectPath(ts)
	re := regexp.MustCompile(`^exports/2026/03/07/20260307T140509Z-[0-9a-f-]{36}\.ndjson\.zst$`)
	assert.Regexp(t, re, p)
	assert.NotEqual(t, p, e.ObjectPath(ts))
}

type failingSource struct{ err error }

func (s failingSource) FilteredFetch(context.Context, models.FilterConfig, models.MessageField, int64, int64, models.SortDirection) ([]models.StoredRecord, error) {
	return nil, s.err
}

func TestExportSourceErrorLeavesNoObject(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	boom := errors.New("database is closed")
	e := New(failingSource{err: boom}, backend, Config{}, zerolog.Nop())

	_, err = e.Export(context.Background(), models.FilterConfig{}, models.FieldID, models.Asc)
	require.ErrorIs(t, err, boom)

	objects, err := backend.List(context.Background(), DefaultPrefix)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestReadNDJSONRejectsGarbage(t *testing.T) {
	_, err := ReadNDJSON(strings.NewReader("not a zstd stream"))
	assert.Error(t, err)
}

func exportBytes(t *testing.T, records int) []byte {
	t.Helper()
	e, st, backend := setup(t, 10)
	for i := 0; i < records; i++ {
		insert(t, st, "app", int32(i), strings.Repeat("payload ", 20))
	}
	res, err := e.Export(context.Background(), models.FilterConfig{}, models.FieldID, models.Asc)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, backend.Get(context.Background(), res.Path, &buf))
	return buf.Bytes()
}

func TestReadNDJSONTruncatedStream(t *testing.T) {
	raw := exportBytes(t, 50)

	got, err := ReadNDJSON(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, got, 50)

	// Any cut short of the full object must fail instead of returning a
	// prefix of the records.
	for _, cut := range []int{len(raw) - 1, len(raw) - 4, len(raw) / 2} {
		recs, err := ReadNDJSON(bytes.NewReader(raw[:cut]))
		assert.Error(t, err, "cut at %d of %d", cut, len(raw))
		assert.Nil(t, recs)
	}
}

func TestReadNDJSONPartialLastLine(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = io.WriteString(zw, `{"id":1,"level":2}`+"\n"+`{"id":2,"le`)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = ReadNDJSON(&buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestExportRefusesExistingPath(t *testing.T) {
	e, st, backend := setup(t, 10)
	insert(t, st, "app", 1, "m")
	fixed := time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	e.newID = func() string { return "00000000-0000-0000-0000-000000000000" }

	ctx := context.Background()
	first, err := e.Export(ctx, models.FilterConfig{}, models.FieldID, models.Asc)
	require.NoError(t, err)
	before, err := backend.Stat(ctx, first.Path)
	require.NoError(t, err)

	insert(t, st, "app", 2, "m")
	_, err = e.Export(ctx, models.FilterConfig{}, models.FieldID, models.Asc)
	require.ErrorIs(t, err, ErrObjectExists)

	got, err := e.Read(ctx, first.Path)
	require.NoError(t, err)
	assert.Len(t, got, 1, "existing export must not be overwritten")
	after, err := backend.Stat(ctx, first.Path)
	require.NoError(t, err)
	assert.Equal(t, before.Size, after.Size)
}

func TestListAndDelete(t *testing.T) {
	e, st, backend := setup(t, 10)
	insert(t, st, "app", 1, "m")
	ctx := context.Background()

	a, err := e.Export(ctx, models.FilterConfig{}, models.FieldID, models.Asc)
	require.NoError(t, err)
	b, err := e.Export(ctx, models.FilterConfig{}, models.FieldID, models.Asc)
	require.NoError(t, err)
	// Not an export: wrong extension, and outside the prefix.
	require.NoError(t, backend.Put(ctx, DefaultPrefix+"/notes.txt", strings.NewReader("x"), 1))
	require.NoError(t, backend.Put(ctx, "other/x"+Extension, strings.NewReader("x"), 1))

	objs, err := e.List(ctx)
	require.NoError(t, err)
	var keys []string
	for _, o := range objs {
		keys = append(keys, o.Key)
		assert.Positive(t, o.Size)
	}
	assert.ElementsMatch(t, []string{a.Path, b.Path}, keys)

	info, err := e.Stat(ctx, a.Path)
	require.NoError(t, err)
	assert.Equal(t, a.Bytes, info.Size)

	require.NoError(t, e.Delete(ctx, a.Path))
	assert.ErrorIs(t, e.Delete(ctx, a.Path), storage.ErrNotFound)
	_, err = e.Read(ctx, a.Path)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	objs, err = e.List(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, b.Path, objs[0].Key)
}

func TestDeleteRejectsNonExportPaths(t *testing.T) {
	e, _, backend := setup(t, 10)
	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, "other/x"+Extension, strings.NewReader("x"), 1))

	for _, p := range []string{"other/x" + Extension, DefaultPrefix + "/notes.txt", "exports/../other/x" + Extension, "/etc/passwd"} {
		err := e.Delete(ctx, p)
		assert.True(t, errors.Is(err, ErrNotExport) || errors.Is(err, storage.ErrInvalidKey), "Delete(%q) = %v", p, err)
	}

	_, err := backend.Stat(ctx, "other/x"+Extension)
	assert.NoError(t, err, "object outside the prefix must survive")
}

func TestPrefixNormalised(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	e := New(failingSource{}, backend, Config{Prefix: "/archive/logs/"}, zerolog.Nop())
	assert.Equal(t, "archive/logs", e.prefix)
	assert.Equal(t, DefaultPrefix, New(failingSource{}, backend, Config{Prefix: "/"}, zerolog.Nop()).prefix)
}
