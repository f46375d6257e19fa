package store

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildConditions maps every present slot of f to one parameterized
// condition. An empty result means the filter matches every row. A pattern
// with an undefined mode is an error, never a widened match.
func buildConditions(f models.FilterConfig) ([]sq.Sqlizer, error) {
	conds := []sq.Sqlizer{}

	for _, slot := range []struct {
		column  string
		pattern *models.StringPattern
	}{
		{"role", f.Role},
		{"label", f.Label},
		{"file", f.File},
		{"function", f.Function},
	} {
		if slot.pattern == nil {
			continue
		}
		cond, err := patternCondition(slot.column, *slot.pattern)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}

	if f.Messages != nil {
		// A record matches when any one of its messages matches.
		cond, arg, err := patternSQL("json_each.value", *f.Messages)
		if err != nil {
			return nil, err
		}
		conds = append(conds, sq.Expr("EXISTS (SELECT 1 FROM json_each("+recordsTable+".messages) WHERE "+cond+")", arg))
	}

	for _, slot := range []struct {
		column   string
		rng      *models.NumberRange
		unsigned bool
	}{
		{"level", f.Level, false},
		{"time", f.Time, true},
		{"process_id", f.ProcessID, true},
		{"thread_id", f.ThreadID, true},
		{"line", f.Line, false},
	} {
		if slot.rng == nil {
			continue
		}
		if slot.rng.Min != nil {
			if slot.unsigned {
				conds = append(conds, unsignedAtLeast(slot.column, *slot.rng.Min))
			} else {
				conds = append(conds, sq.GtOrEq{slot.column: *slot.rng.Min})
			}
		}
		if slot.rng.Max != nil {
			if slot.unsigned {
				conds = append(conds, unsignedAtMost(slot.column, *slot.rng.Max))
			} else {
				conds = append(conds, sq.LtOrEq{slot.column: *slot.rng.Max})
			}
		}
	}

	return conds, nil
}

// Unsigned columns hold the uint64 bit pattern in SQLite's signed INTEGER,
// so values of 2^63 and above are stored negative. Bounds on these columns
// are bit patterns too and compare in unsigned order: a stored negative
// value sorts above every non-negative one.
func unsignedAtLeast(column string, min int64) sq.Sqlizer {
	if min >= 0 {
		return sq.Or{sq.Lt{column: 0}, sq.GtOrEq{column: min}}
	}
	return sq.And{sq.Lt{column: 0}, sq.GtOrEq{column: min}}
}

func unsignedAtMost(column string, max int64) sq.Sqlizer {
	if max >= 0 {
		return sq.And{sq.GtOrEq{column: 0}, sq.LtOrEq{column: max}}
	}
	return sq.Or{sq.GtOrEq{column: 0}, sq.LtOrEq{column: max}}
}

// patternCondition builds the condition for a single string pattern. LIKE
// metacharacters in the value are escaped so the match is literal. SQLite's
// LIKE is case-insensitive for ASCII letters.
func patternCondition(column string, p models.StringPattern) (sq.Sqlizer, error) {
	if p.Mode == models.PatternEqual {
		return sq.Eq{column: p.Value}, nil
	}
	cond, arg, err := patternSQL(column, p)
	if err != nil {
		return nil, err
	}
	return sq.Expr(cond, arg), nil
}

func patternSQL(column string, p models.StringPattern) (string, string, error) {
	escaped := likeEscaper.Replace(p.Value)
	switch p.Mode {
	case models.PatternEqual:
		return column + " = ?", p.Value, nil
	case models.PatternContain:
		return column + ` LIKE ? ESCAPE '\'`, "%" + escaped + "%", nil
	case models.PatternStart:
		return column + ` LIKE ? ESCAPE '\'`, escaped + "%", nil
	case models.PatternEnd:
		return column + ` LIKE ? ESCAPE '\'`, "%" + escaped, nil
	default:
		return "", "", fmt.Errorf("%s: invalid pattern mode %d", column, int(p.Mode))
	}
}

func applyFilter[B interface {
	Where(pred interface{}, args ...interface{}) B
}](b B, f models.FilterConfig) (B, error) {
	conds, err := buildConditions(f)
	if err != nil {
		return b, storeErr("build filter", err)
	}
	if len(conds) == 0 {
		return b, nil
	}
	return b.Where(sq.And(conds)), nil
}
