// internal/logs/query.go
//
// Filtered log queries.
//
// Context
// -------
// Text filters match inside the JSON data column.  MySQL stores get
// the JSON_EXTRACT strategy; SQLite stores fall back to raw-text LIKE
// patterns shaped around the serialized key, with the same observable
// semantics.  Every filter value is LIKE-escaped and length-capped
// before it is embedded in a pattern, so caller-supplied wildcards
// match literally.
package logs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guildlogs/panel/internal/connman"
)

// maxFilterLen caps a filter value before pattern matching.
const maxFilterLen = 500

// Filters is the set of supported log query filters.  Empty fields
// are ignored.
type Filters struct {
	Name      string
	IDUnique  string
	Message   string
	Title     string
	Type      string
	DateStart string
	DateEnd   string
}

// Map renders the filter set in the shape the cache key builder
// expects.
func (f Filters) Map() map[string]string {
	return map[string]string{
		"name":       f.Name,
		"idunique":   f.IDUnique,
		"message":    f.Message,
		"title":      f.Title,
		"type":       f.Type,
		"date_start": f.DateStart,
		"date_end":   f.DateEnd,
	}
}

// escapeLike neutralizes LIKE metacharacters and caps the length.
func escapeLike(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `%`, `\%`)
	v = strings.ReplaceAll(v, `_`, `\_`)
	if len(v) > maxFilterLen {
		v = v[:maxFilterLen]
	}
	return v
}

// parseFilterDate accepts a date or datetime filter value.  Anything
// unparsable is ignored rather than surfaced.
func parseFilterDate(raw string) (time.Time, bool) {
	for _, layout := range []string{dateLayout, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// jsonField describes how one text filter reaches the data column.
type jsonField struct {
	value  string
	key    string // JSON key inside the data blob
	rawPat string // raw-text pattern template for SQLite, %s = escaped value
}

// whereClause builds the WHERE fragment and its args for a filter set.
func whereClause(dialect connman.Dialect, f Filters) (string, []any) {
	var conds []string
	var args []any

	fields := []jsonField{
		{f.Name, "name", `%%"name":"%%%s%%"%%`},
		{f.IDUnique, "idunique", `%%"idunique":%%%s%%`},
		{f.Message, "logs_message", `%%"logs_message":"%%%s%%"%%`},
		{f.Title, "logs_title", `%%"logs_title":"%%%s%%"%%`},
	}
	for _, fld := range fields {
		if fld.value == "" {
			continue
		}
		safe := escapeLike(fld.value)
		if dialect == connman.DialectMySQL {
			conds = append(conds, fmt.Sprintf(`JSON_EXTRACT(data, '$.%s') LIKE ? ESCAPE '\\'`, fld.key))
			args = append(args, "%"+safe+"%")
		} else {
			conds = append(conds, `data LIKE ? ESCAPE '\'`)
			args = append(args, fmt.Sprintf(fld.rawPat, safe))
		}
	}

	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if t, ok := parseFilterDate(f.DateStart); f.DateStart != "" && ok {
		conds = append(conds, "date >= ?")
		args = append(args, t)
	}
	if t, ok := parseFilterDate(f.DateEnd); f.DateEnd != "" && ok {
		conds = append(conds, "date <= ?")
		args = append(args, t)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// queryPage runs the count plus page queries against a tenant store.
func queryPage(ctx context.Context, conn *connman.Conn, page int, f Filters, pageSize int) ([]Record, int, error) {
	where, args := whereClause(conn.Dialect, f)

	var total int
	if err := conn.DB.GetContext(ctx, &total, "SELECT COUNT(*) FROM vlogs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	// Newest first; the id tiebreak keeps same-second rows in a
	// deterministic order across repeated calls.
	q := "SELECT id, type, data, date FROM vlogs" + where +
		" ORDER BY date DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)

	records := []Record{}
	if err := conn.DB.SelectContext(ctx, &records, q, args...); err != nil {
		return nil, 0, fmt.Errorf("select logs: %w", err)
	}
	return records, total, nil
}

// queryTypeCounts runs the grouped type count against a tenant store.
func queryTypeCounts(ctx context.Context, conn *connman.Conn) (map[string]int, error) {
	rows, err := conn.DB.QueryxContext(ctx, "SELECT type, COUNT(*) AS n FROM vlogs GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("count log types: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}
