// Package sqlbackend implements the external SQL-backend oracle of
// spec §6 against a real PostgreSQL connection: connect and query.
// Filesystem stats for the memory manager's mount point are read by
// pkg/memory, not here.
package sqlbackend

import (
	"database/sql"
	"fmt"
	"os/user"
	"strings"

	_ "github.com/lib/pq"
)

// Session wraps a persistent backend connection pool. The router holds
// one Session per shard; a shard holds exactly one, for itself.
type Session struct {
	db *sql.DB
}

// Connect opens a session to the backend at ip:port using the current
// OS user and the system default database, per spec §4.4 step 1.
func Connect(ip, port string) (*Session, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: resolve current user: %w", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		ip, port, u.Username, "postgres")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: open %s:%s: %w", ip, port, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlbackend: ping %s:%s: %w", ip, port, err)
	}

	return &Session{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Session) Close() error {
	return s.db.Close()
}

// Row is one result row: column name -> rendered string value. Typed
// accessors at the driver layer (string/int32/float64/numeric) are
// collapsed to their textual form here since the wire codec (spec
// §4.1) only ever carries text.
type Row map[string]string

// Result is a query's column order plus its rows, in the order the
// backend returned them.
type Result struct {
	Columns []string
	Rows    []Row
}

// Query executes sql on the session and returns its result set. A
// statement that produces no rows yields a Result with no Rows (not an
// error); its Columns are empty only when the statement returns no
// result set at all (spec §4.4 "if rows are empty, return None").
func (s *Session) Query(sqlText string) (*Result, error) {
	rows, err := s.db.Query(sqlText)
	if err != nil {
		return nil, &QueryExecutionError{SQL: sqlText, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &QueryExecutionError{SQL: sqlText, Err: err}
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryExecutionError{SQL: sqlText, Err: err}
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = renderValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, &QueryExecutionError{SQL: sqlText, Err: err}
	}

	return result, nil
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// TableNames scans information_schema.tables for the public schema,
// per spec §4.4 step 3.
func (s *Session) TableNames() ([]string, error) {
	result, err := s.Query(`SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'`)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		names = append(names, row["table_name"])
	}
	return names, nil
}

// MaxID returns MAX(id) for table, or 0 if the query errors (empty
// table or no id column) per spec §4.4 step 3.
func (s *Session) MaxID(table string) int64 {
	result, err := s.Query(fmt.Sprintf(`SELECT MAX(id) AS max_id FROM %s`, quoteIdent(table)))
	if err != nil || len(result.Rows) == 0 {
		return 0
	}
	v := result.Rows[0]["max_id"]
	if v == "" {
		return 0
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0
	}
	return n
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QueryExecutionError reports a backend-rejected statement (spec §7).
type QueryExecutionError struct {
	SQL string
	Err error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("sqlbackend: query %q failed: %v", e.SQL, e.Err)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}
