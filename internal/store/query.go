package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
)

// FilteredFetch returns the records matching f ordered by orderBy. When
// orderBy is not the id, rows with equal keys are ordered by id in the same
// direction so that pages do not overlap.
func (s *Store) FilteredFetch(ctx context.Context, f models.FilterConfig, orderBy models.MessageField, limit, offset int64, dir models.SortDirection) ([]models.StoredRecord, error) {
	if !orderBy.Valid() {
		orderBy = models.FieldID
	}

	q, err := applyFilter(builder.Select(recordColumns...).From(recordsTable), f)
	if err != nil {
		return nil, err
	}
	q = q.OrderBy(orderBy.Column() + " " + dir.SQL())
	if orderBy != models.FieldID {
		q = q.OrderBy("id " + dir.SQL())
	}
	q = q.Suffix("LIMIT ? OFFSET ?", limit, offset)

	return s.queryRecords(ctx, q)
}

// FilteredCount counts the records matching f.
func (s *Store) FilteredCount(ctx context.Context, f models.FilterConfig) (int64, error) {
	q, err := applyFilter(builder.Select("COUNT(*)").From(recordsTable), f)
	if err != nil {
		return 0, err
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, storeErr("build count", err)
	}

	db, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	var n int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeErr("count filtered records", err)
	}
	return n, nil
}

// Distinct lists the unique non-NULL values of field in ascending order.
// Text columns yield string values; id, time, process_id and thread_id
// yield uint64; line and level yield int64.
func (s *Store) Distinct(ctx context.Context, field models.MessageField) ([]any, error) {
	if !field.Valid() {
		return nil, storeErr("distinct", fmt.Errorf("invalid field %d", int(field)))
	}
	col := field.Column()
	query, args, err := builder.Select(col).Distinct().From(recordsTable).
		Where(col + " IS NOT NULL").
		OrderBy(col).
		ToSql()
	if err != nil {
		return nil, storeErr("build distinct", err)
	}

	db, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query distinct "+col, err)
	}
	defer rows.Close()

	values := make([]any, 0)
	for rows.Next() {
		if field.IsText() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return nil, storeErr("scan distinct "+col, err)
			}
			values = append(values, v)
			continue
		}
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, storeErr("scan distinct "+col, err)
		}
		if field.IsUnsigned() {
			values = append(values, uint64(v))
		} else {
			values = append(values, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate distinct "+col, err)
	}

	// Unsigned values above MaxInt64 are stored negative; restore the
	// unsigned order.
	if field.IsUnsigned() {
		slices.SortFunc(values, func(a, b any) int {
			x, y := a.(uint64), b.(uint64)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		})
	}
	return values, nil
}

// Delete removes every record matching f and returns how many were removed.
// A zero FilterConfig matches all rows and therefore empties the table.
func (s *Store) Delete(ctx context.Context, f models.FilterConfig) (int64, error) {
	q, err := applyFilter(builder.Delete(recordsTable), f)
	if err != nil {
		return 0, err
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, storeErr("build delete", err)
	}
	return s.exec(ctx, "delete records", query, args...)
}

// DeleteBefore removes records inserted before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := builder.Delete(recordsTable).
		Where(sq.Lt{"created_at": sqliteTime(cutoff)}).
		ToSql()
	if err != nil {
		return 0, storeErr("build retention delete", err)
	}
	return s.exec(ctx, "delete expired records", query, args...)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	db, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}
