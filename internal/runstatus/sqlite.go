package runstatus

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	logx "wadispatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

// sqliteStore keeps RunStatus in two tables: run_state (a single row) and
// recipient_status. Every mutation is one IMMEDIATE transaction, so writers in
// other processes serialize on the database lock.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("status.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	bt := cfg.BusyTimeout
	if bt <= 0 {
		bt = defaultBusyTimeout
	}

	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", bt.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstatus: migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) IsRunning(ctx context.Context) (bool, error) {
	var running bool
	err := s.db.QueryRowContext(ctx, `SELECT is_running FROM run_state WHERE id = 1`).Scan(&running)
	return running, err
}

func (s *sqliteStore) StartExecution(ctx context.Context, total int, executionID string) (bool, error) {
	started := false
	err := s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE run_state SET is_running = 1, execution_id = ?, start_time = ?, end_time = NULL,
			   total_recipients = ?, processed_count = 0, success_count = 0, failure_count = 0,
			   current_step = NULL, current_recipient = NULL
			 WHERE id = 1 AND is_running = 0`,
			executionID, fmtTime(s.now()), total,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		started = true
		_, err = tx.ExecContext(ctx, `DELETE FROM recipient_status`)
		return err
	})
	if err != nil {
		return false, err
	}
	return started, nil
}

func (s *sqliteStore) UpdateCurrentStep(ctx context.Context, step, recipientName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_state SET current_step = ?, current_recipient = ? WHERE id = 1 AND is_running = 1`,
		nullStr(step), nullStr(recipientName),
	)
	return err
}

func (s *sqliteStore) UpdateRecipientStatus(ctx context.Context, key, name, phone string, st Status, detail string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		var running bool
		if err := tx.QueryRowContext(ctx, `SELECT is_running FROM run_state WHERE id = 1`).Scan(&running); err != nil {
			return err
		}
		if !running {
			return nil
		}

		final := 0
		if st.Terminal() {
			final = 1
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO recipient_status(key, name, phone, status, detail, updated_at, finalized)
			 VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(key) DO UPDATE SET
			   name = excluded.name, phone = excluded.phone, status = excluded.status,
			   detail = excluded.detail, updated_at = excluded.updated_at, finalized = excluded.finalized
			 WHERE recipient_status.finalized = 0`,
			key, name, phone, string(st), nullStr(detail), fmtTime(s.now()), final,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 || final == 0 {
			return nil
		}

		col := "failure_count"
		if st == StatusSuccess {
			col = "success_count"
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE run_state SET processed_count = processed_count + 1, `+col+` = `+col+` + 1 WHERE id = 1`)
		return err
	})
}

func (s *sqliteStore) EndExecution(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_state SET is_running = 0, end_time = ? WHERE id = 1`, fmtTime(s.now()))
	return err
}

func (s *sqliteStore) ResetStatus(ctx context.Context) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE run_state SET is_running = 0, execution_id = NULL, start_time = NULL, end_time = NULL,
			   total_recipients = 0, processed_count = 0, success_count = 0, failure_count = 0,
			   current_step = NULL, current_recipient = NULL
			 WHERE id = 1`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM recipient_status`)
		return err
	})
}

func (s *sqliteStore) Status(ctx context.Context) (RunStatus, error) {
	rs := idle()
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		var (
			execID, start, end, step, cur sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			`SELECT is_running, execution_id, start_time, end_time, total_recipients,
			        processed_count, success_count, failure_count, current_step, current_recipient
			 FROM run_state WHERE id = 1`,
		).Scan(&rs.IsRunning, &execID, &start, &end, &rs.TotalRecipients,
			&rs.ProcessedCount, &rs.SuccessCount, &rs.FailureCount, &step, &cur)
		if err != nil {
			return err
		}
		rs.ExecutionID = execID.String
		rs.StartTime = parseTime(start)
		rs.EndTime = parseTime(end)
		rs.CurrentStep = step.String
		rs.CurrentRecipient = cur.String

		rows, err := tx.QueryContext(ctx,
			`SELECT key, name, phone, status, detail, updated_at, finalized FROM recipient_status ORDER BY rowid`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				key, name, phone, status, updated string
				detail                            sql.NullString
				final                             bool
			)
			if err := rows.Scan(&key, &name, &phone, &status, &detail, &updated, &final); err != nil {
				return err
			}
			r := RecipientStatus{Name: name, Phone: phone, Status: Status(status), Detail: detail.String}
			if t := parseTime(sql.NullString{String: updated, Valid: true}); t != nil {
				r.UpdatedAt = *t
			}
			rs.Recipients[key] = r
			if final {
				rs.FinalizedKeys = append(rs.FinalizedKeys, key)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return RunStatus{}, err
	}
	return rs, nil
}

// tx runs fn in a write transaction; the DSN makes it BEGIN IMMEDIATE so
// read-modify-write cycles never upgrade a shared lock.
func (s *sqliteStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.run(ctx, nil, fn)
}

// readTx runs fn in a deferred read-only transaction: a consistent
// snapshot that, under WAL, never waits on the writer.
func (s *sqliteStore) readTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *sqliteStore) run(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
