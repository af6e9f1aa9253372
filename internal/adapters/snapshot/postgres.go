package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/okian/ladder/internal/adapters/repository"
)

const postgresPingTimeout = 5 * time.Second

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresSink stores boards as rows of (board, member, score).
type PostgresSink struct {
	db    *sql.DB
	table string // quoted identifier
	name  string // raw table name, for CopyIn
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink opens dsn and creates table when missing.
func NewPostgresSink(dsn, table string) (*PostgresSink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s := &PostgresSink{db: db, table: pq.QuoteIdentifier(table), name: table}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		board  TEXT NOT NULL,
		member TEXT NOT NULL,
		score  DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (board, member)
	)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("creating table %s: %w", s.name, err)
	}
	return nil
}

func (s *PostgresSink) Name() string { return BackendPostgres }

// Save replaces the board's rows in one transaction using COPY.
func (s *PostgresSink) Save(ctx context.Context, board string, entries []repository.Entry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE board = $1`, board); err != nil {
			return fmt.Errorf("clearing board %s: %w", board, err)
		}
		if len(entries) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn(s.name, "board", "member", "score"))
		if err != nil {
			return fmt.Errorf("preparing copy: %w", err)
		}
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, board, e.Member, e.Score); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("copying %s: %w", e.Member, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("flushing copy: %w", err)
		}
		return stmt.Close()
	})
}

// Load returns the board in rank order.
func (s *PostgresSink) Load(ctx context.Context, board string) ([]repository.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member, score FROM `+s.table+` WHERE board = $1 ORDER BY score DESC, member ASC`, board)
	if err != nil {
		return nil, fmt.Errorf("loading board %s: %w", board, err)
	}
	defer rows.Close()

	var out []repository.Entry
	for rows.Next() {
		var e repository.Entry
		if err := rows.Scan(&e.Member, &e.Score); err != nil {
			return nil, fmt.Errorf("scanning board %s: %w", board, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading board %s: %w", board, err)
	}
	return ranked(out), nil
}

func (s *PostgresSink) Delete(ctx context.Context, board string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE board = $1`, board); err != nil {
		return fmt.Errorf("deleting board %s: %w", board, err)
	}
	return nil
}

func (s *PostgresSink) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT board FROM `+s.table+` ORDER BY board`)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	defer rows.Close()
	var boards []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scanning board name: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func (s *PostgresSink) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
