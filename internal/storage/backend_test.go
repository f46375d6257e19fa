package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testBackendContract exercises the behaviour every backend shares.
func testBackendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	data := []byte(`{"id":1}` + "\n")

	key := "exports/2026/05/10/a.ndjson.zst"
	if err := b.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Put(ctx, "exports/2026/05/11/b.ndjson.zst", strings.NewReader("xy"), -1); err != nil {
		t.Fatalf("Put with unknown size failed: %v", err)
	}
	if err := b.Put(ctx, "exports-old/c.ndjson.zst", strings.NewReader("z"), 1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	info, err := b.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Key != key || info.Size != int64(len(data)) {
		t.Errorf("Stat = %+v, want key %s size %d", info, key, len(data))
	}
	if info.ModifiedAt.IsZero() {
		t.Error("Stat returned zero ModifiedAt")
	}

	var buf bytes.Buffer
	if err := b.Get(ctx, key, &buf); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("Get = %q, want %q", buf.Bytes(), data)
	}

	for _, prefix := range []string{"exports", "exports/"} {
		objs, err := b.List(ctx, prefix)
		if err != nil {
			t.Fatalf("List(%q) failed: %v", prefix, err)
		}
		if len(objs) != 2 || objs[0].Key != key || objs[1].Key != "exports/2026/05/11/b.ndjson.zst" {
			t.Errorf("List(%q) = %+v, want the two exports/ objects in key order", prefix, objs)
		}
		if len(objs) == 2 && objs[1].Size != 2 {
			t.Errorf("List(%q) size = %d, want 2", prefix, objs[1].Size)
		}
	}

	if objs, err := b.List(ctx, "missing"); err != nil || len(objs) != 0 {
		t.Errorf("List(missing) = %v, %v; want empty", objs, err)
	}

	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := b.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
	if _, err := b.Stat(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat after Delete error = %v, want ErrNotFound", err)
	}
	if err := b.Get(ctx, key, &bytes.Buffer{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}

	for _, bad := range []string{"", "/etc/passwd", "../x", "exports/../../x", "exports//a", "exports/./a", `exports\a`} {
		if err := b.Put(ctx, bad, strings.NewReader("x"), 1); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) error = %v, want ErrInvalidKey", bad, err)
		}
		if _, err := b.Stat(ctx, bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Stat(%q) error = %v, want ErrInvalidKey", bad, err)
		}
		if err := b.Delete(ctx, bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Delete(%q) error = %v, want ErrInvalidKey", bad, err)
		}
	}
	if _, err := b.List(ctx, "../"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("List(../) error = %v, want ErrInvalidKey", err)
	}
}

func newLocal(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalBackend failed: %v", err)
	}
	return b
}

func TestLocalBackend_Contract(t *testing.T) {
	testBackendContract(t, newLocal(t))
}

func TestLocalBackend_FailedPutLeavesNothing(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	// Short body for the declared size.
	err := b.Put(ctx, "exports/a.ndjson.zst", strings.NewReader("abc"), 10)
	if err == nil {
		t.Fatal("expected error for short write")
	}
	if _, err := b.Stat(ctx, "exports/a.ndjson.zst"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat after failed Put = %v, want ErrNotFound", err)
	}

	entries, err := os.ReadDir(filepath.Join(b.root, "exports"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		t.Errorf("left behind: %s", e.Name())
	}
}

func TestLocalBackend_ListHidesTempFiles(t *testing.T) {
	b := newLocal(t)
	dir := filepath.Join(b.root, "exports")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".xclogger-123.tmp"), []byte("partial"), 0o600); err != nil {
		t.Fatal(err)
	}

	objs, err := b.List(context.Background(), "exports")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objs) != 0 {
		t.Errorf("List = %+v, want no objects", objs)
	}
}

func TestLocalBackend_DeletePrunesEmptyDirs(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	for _, k := range []string{"exports/2026/05/10/a.zst", "exports/2026/05/11/b.zst"} {
		if err := b.Put(ctx, k, strings.NewReader("x"), 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Delete(ctx, "exports/2026/05/10/a.zst"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(b.root, "exports/2026/05/10")); !os.IsNotExist(err) {
		t.Errorf("empty day directory not pruned: %v", err)
	}
	if _, err := os.Stat(filepath.Join(b.root, "exports/2026/05/11")); err != nil {
		t.Errorf("sibling directory removed: %v", err)
	}
	if _, err := os.Stat(b.root); err != nil {
		t.Errorf("root removed: %v", err)
	}
}

func TestLocalBackend_StatDirectory(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()
	if err := b.Put(ctx, "exports/2026/a.zst", strings.NewReader("x"), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Stat(ctx, "exports/2026"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat(directory) = %v, want ErrNotFound", err)
	}
}

func TestCheckKey(t *testing.T) {
	good := []string{"a", "exports/2026/05/10/x.ndjson.zst", "a..b/c"}
	for _, k := range good {
		if err := CheckKey(k); err != nil {
			t.Errorf("CheckKey(%q) = %v, want nil", k, err)
		}
	}
	bad := []string{"", "/a", "a/", "a//b", "./a", "a/..", "..", "a\\b", "a\x00b"}
	for _, k := range bad {
		if err := CheckKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("CheckKey(%q) = %v, want ErrInvalidKey", k, err)
		}
	}
}

func TestNew(t *testing.T) {
	b, err := New(Config{Backend: "local", LocalPath: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if b.Type() != "local" {
		t.Errorf("Type = %s, want local", b.Type())
	}

	if _, err := New(Config{Backend: "ftp"}, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := New(Config{Backend: "s3"}, zerolog.Nop()); err == nil {
		t.Error("expected error for s3 without bucket")
	}
	if _, err := New(Config{Backend: "azure"}, zerolog.Nop()); err == nil {
		t.Error("expected error for azure without container")
	}
	if _, err := New(Config{Backend: "azure", Azure: AzureBlobConfig{ContainerName: "logs"}}, zerolog.Nop()); err == nil {
		t.Error("expected error for azure without credentials")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"exports/a.ndjson.zst": "application/zstd",
		"exports/a.ndjson":     "application/x-ndjson",
		"exports/a.bin":        "application/octet-stream",
	}
	for in, want := range tests {
		if got := contentType(in); got != want {
			t.Errorf("contentType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSortByKey(t *testing.T) {
	now := time.Now()
	objs := sortByKey([]ObjectInfo{{Key: "b", ModifiedAt: now}, {Key: "a"}, {Key: "c"}})
	if objs[0].Key != "a" || objs[1].Key != "b" || objs[2].Key != "c" {
		t.Errorf("sortByKey = %+v", objs)
	}
}
