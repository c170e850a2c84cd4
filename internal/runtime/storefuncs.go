package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/risor-io/risor/object"

	"github.com/jward/capgate/internal/store"
)

// makeLatestUnitFn creates the "latest_unit" host function. Scripts use it
// to consult earlier sessions, for example to keep a verdict stable across
// runs.
//
// latest_unit(name) → {session_id, name, hash, analyzed_at, dependencies} or nil
func makeLatestUnitFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("latest_unit", func(ctx context.Context, args ...object.Object) object.Object {
		if s == nil {
			return object.Errorf("latest_unit: no store configured")
		}
		if len(args) != 1 {
			return object.NewArgsError("latest_unit", 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("latest_unit: %v", err)
		}
		u, err := s.LatestUnit(name)
		if err != nil {
			return object.Errorf("latest_unit: %v", err)
		}
		if u == nil {
			return object.Nil
		}
		deps, err := s.DependenciesByUnit(u.ID)
		if err != nil {
			return object.Errorf("latest_unit: %v", err)
		}
		return object.NewMap(map[string]object.Object{
			"session_id":   object.NewString(u.SessionID),
			"name":         object.NewString(u.Name),
			"hash":         object.NewString(u.Hash),
			"analyzed_at":  object.NewString(u.AnalyzedAt.Format(time.RFC3339)),
			"dependencies": dependenciesToList(deps),
		})
	})
}

// dependenciesToList converts dependency records to a Risor list of maps.
func dependenciesToList(deps []*store.DependencyRecord) object.Object {
	results := make([]object.Object, 0, len(deps))
	for _, d := range deps {
		alts := make([]object.Object, len(d.Alternatives))
		for i, a := range d.Alternatives {
			alts[i] = object.NewString(a)
		}
		results = append(results, object.NewMap(map[string]object.Object{
			"kind":         object.NewString(d.Kind),
			"ref":          object.NewString(d.Ref),
			"optional":     object.NewBool(d.Optional),
			"resolved":     object.NewBool(d.Resolved),
			"alternatives": object.NewList(alts),
		}))
	}
	return object.NewList(results)
}

func makeDBQueryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("db_query", func(ctx context.Context, args ...object.Object) object.Object {
		if s == nil {
			return object.Errorf("db_query: no store configured")
		}
		if len(args) < 1 {
			return object.Errorf("db_query: expected at least 1 argument (sql), got %d", len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}

		// Only allow SELECT statements.
		trimmed := strings.TrimSpace(strings.ToUpper(sqlStr))
		if !strings.HasPrefix(trimmed, "SELECT") {
			return object.Errorf("db_query: only SELECT queries are allowed")
		}

		// Convert remaining args to query parameters.
		var queryArgs []any
		for _, arg := range args[1:] {
			switch v := arg.(type) {
			case *object.Int:
				queryArgs = append(queryArgs, v.Value())
			case *object.Float:
				queryArgs = append(queryArgs, v.Value())
			case *object.String:
				queryArgs = append(queryArgs, v.Value())
			case *object.Bool:
				queryArgs = append(queryArgs, v.Value())
			case *object.NilType:
				queryArgs = append(queryArgs, nil)
			default:
				queryArgs = append(queryArgs, fmt.Sprintf("%v", arg))
			}
		}

		rows, queryErr := s.DB().QueryContext(ctx, sqlStr, queryArgs...)
		if queryErr != nil {
			return object.Errorf("db_query: %v", queryErr)
		}
		defer rows.Close()

		cols, colErr := rows.Columns()
		if colErr != nil {
			return object.Errorf("db_query: columns: %v", colErr)
		}

		var results []object.Object
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return object.Errorf("db_query: scan: %v", err)
			}
			row := make(map[string]object.Object, len(cols))
			for i, col := range cols {
				row[col] = sqlValueToObject(values[i])
			}
			results = append(results, object.NewMap(row))
		}
		if err := rows.Err(); err != nil {
			return object.Errorf("db_query: rows: %v", err)
		}
		if results == nil {
			results = []object.Object{}
		}
		return object.NewList(results)
	})
}

// sqlValueToObject converts a database value to a Risor object.
func sqlValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	switch val := v.(type) {
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}
