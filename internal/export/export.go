// Package export writes filtered records to object storage as
// zstd-compressed newline-delimited JSON.
package export

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/internal/metrics"
	"github.com/X-ChenD-Hai/xclogger-server/internal/storage"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPrefix   = "exports"
	DefaultPageSize = 1000
	// Extension of every export object.
	Extension = ".ndjson.zst"
)

var (
	// ErrObjectExists is returned when the generated object path is already
	// taken. Export never overwrites.
	ErrObjectExists = errors.New("export object already exists")

	// ErrNotExport is returned for paths outside the export prefix or
	// without the export extension.
	ErrNotExport = errors.New("not an export object")
)

// Source pages through stored records.
type Source interface {
	FilteredFetch(ctx context.Context, f models.FilterConfig, orderBy models.MessageField, limit, offset int64, dir models.SortDirection) ([]models.StoredRecord, error)
}

// Config configures an Exporter.
type Config struct {
	Prefix   string
	PageSize int
}

// Result describes a finished export.
type Result struct {
	Path    string `json:"path"`
	Backend string `json:"backend"`
	Records int64  `json:"records"`
	Bytes   int64  `json:"bytes"`
}

type Exporter struct {
	source   Source
	backend  storage.Backend
	prefix   string
	pageSize int
	now      func() time.Time
	newID    func() string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func New(source Source, backend storage.Backend, cfg Config, logger zerolog.Logger) *Exporter {
	prefix := strings.Trim(path.Clean("/"+cfg.Prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Exporter{
		source:   source,
		backend:  backend,
		prefix:   prefix,
		pageSize: pageSize,
		now:      time.Now,
		newID:    uuid.NewString,
		metrics:  metrics.Get(),
		logger:   logger.With().Str("component", "export").Logger(),
	}
}

// ObjectPath returns <prefix>/yyyy/mm/dd/<timestamp>-<uuid>.ndjson.zst for t.
func (e *Exporter) ObjectPath(t time.Time) string {
	t = t.UTC()
	name := fmt.Sprintf("%s-%s%s", t.Format("20060102T150405Z"), e.newID(), Extension)
	return path.Join(e.prefix, t.Format("2006"), t.Format("01"), t.Format("02"), name)
}

// Export streams every record matching f, ordered by orderBy and dir, into
// a new object. A failed export leaves no object behind on backends that
// write atomically.
func (e *Exporter) Export(ctx context.Context, f models.FilterConfig, orderBy models.MessageField, dir models.SortDirection) (*Result, error) {
	start := e.now()
	res := &Result{
		Path:    e.ObjectPath(start),
		Backend: e.backend.Type(),
	}

	switch _, err := e.backend.Stat(ctx, res.Path); {
	case err == nil:
		return nil, fmt.Errorf("export %s: %w", res.Path, ErrObjectExists)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("export %s: %w", res.Path, err)
	}

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cw := &countingWriter{w: pw}
		err := e.writeRecords(gctx, cw, f, orderBy, dir, &res.Records)
		res.Bytes = cw.n
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := e.backend.Put(gctx, res.Path, pr, -1)
		pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		e.metrics.RecordExport(0, 0, err)
		e.logger.Error().Err(err).Str("path", res.Path).Msg("Export failed")
		return nil, fmt.Errorf("export %s: %w", res.Path, err)
	}

	e.metrics.RecordExport(res.Records, res.Bytes, nil)
	e.logger.Info().
		Str("path", res.Path).
		Str("backend", res.Backend).
		Int64("records", res.Records).
		Int64("bytes", res.Bytes).
		Dur("duration", time.Since(start)).
		Msg("Export completed")
	return res, nil
}

func (e *Exporter) writeRecords(ctx context.Context, w io.Writer, f models.FilterConfig, orderBy models.MessageField, dir models.SortDirection, n *int64) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)

	limit := int64(e.pageSize)
	for offset := int64(0); ; offset += limit {
		page, err := e.source.FilteredFetch(ctx, f, orderBy, limit, offset, dir)
		if err != nil {
			zw.Close()
			return err
		}
		for i := range page {
			if err := enc.Encode(&page[i]); err != nil {
				zw.Close()
				return fmt.Errorf("encode record %d: %w", page[i].ID, err)
			}
		}
		*n += int64(len(page))
		if int64(len(page)) < limit {
			break
		}
	}

	return zw.Close()
}

// List returns every export object, oldest path first.
func (e *Exporter) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	objs, err := e.backend.List(ctx, e.prefix)
	if err != nil {
		return nil, err
	}
	out := objs[:0]
	for _, o := range objs {
		if strings.HasSuffix(o.Key, Extension) {
			out = append(out, o)
		}
	}
	return out, nil
}

// checkPath accepts only keys that Export could have produced.
func (e *Exporter) checkPath(p string) error {
	if err := storage.CheckKey(p); err != nil {
		return err
	}
	if !strings.HasPrefix(p, e.prefix+"/") || !strings.HasSuffix(p, Extension) {
		return fmt.Errorf("%w: %s", ErrNotExport, p)
	}
	return nil
}

// Download copies the raw compressed object at p into w.
func (e *Exporter) Download(ctx context.Context, p string, w io.Writer) error {
	if err := e.checkPath(p); err != nil {
		return err
	}
	return e.backend.Get(ctx, p, w)
}

// Stat returns metadata for the export object at p.
func (e *Exporter) Stat(ctx context.Context, p string) (storage.ObjectInfo, error) {
	if err := e.checkPath(p); err != nil {
		return storage.ObjectInfo{}, err
	}
	return e.backend.Stat(ctx, p)
}

// Delete removes the export object at p.
func (e *Exporter) Delete(ctx context.Context, p string) error {
	if err := e.checkPath(p); err != nil {
		return err
	}
	if err := e.backend.Delete(ctx, p); err != nil {
		return err
	}
	e.logger.Info().Str("path", p).Msg("Export deleted")
	return nil
}

// Read downloads the object at p and decodes it.
func (e *Exporter) Read(ctx context.Context, p string) ([]models.StoredRecord, error) {
	var buf bytes.Buffer
	if err := e.Download(ctx, p, &buf); err != nil {
		return nil, err
	}
	return ReadNDJSON(&buf)
}

// ReadNDJSON decodes a zstd-compressed NDJSON stream written by Export.
// A corrupt or truncated stream is an error, never a short result.
func ReadNDJSON(r io.Reader) ([]models.StoredRecord, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	br := bufio.NewReader(zr)
	out := []models.StoredRecord{}
	for {
		line, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read record %d: %w", len(out)+1, err)
		}
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) != 0 {
				return nil, fmt.Errorf("record %d: %w", len(out)+1, io.ErrUnexpectedEOF)
			}
			return out, nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var rec models.StoredRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
