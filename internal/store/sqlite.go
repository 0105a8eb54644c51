package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-alerts/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	rule_id       TEXT,
	type          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	message       TEXT NOT NULL,
	details       TEXT,
	state         TEXT NOT NULL DEFAULT 'open',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	snoozed_until DATETIME,
	resolved_at   DATETIME
);

CREATE TABLE IF NOT EXISTS outbox (
	id              TEXT PRIMARY KEY,
	alert_id        TEXT NOT NULL REFERENCES alerts(id),
	channel_id      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 5,
	next_attempt_at DATETIME NOT NULL,
	last_error      TEXT,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS score_points (
	lead_id    TEXT NOT NULL,
	ts         DATETIME NOT NULL,
	score      REAL NOT NULL,
	confidence REAL,
	factors    TEXT,
	PRIMARY KEY (lead_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);
CREATE INDEX IF NOT EXISTS idx_alerts_entity ON alerts(entity_id);
CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(type);
CREATE INDEX IF NOT EXISTS idx_outbox_status_next ON outbox(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_score_points_lead ON score_points(lead_id, ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAlert(ctx context.Context, a model.Alert) error {
	detailsJSON, err := marshalDetails(a.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal details")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, entity_id, rule_id, type, severity, message, details, state, created_at, updated_at, snoozed_until, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   severity = excluded.severity,
		   message = excluded.message,
		   details = excluded.details,
		   state = excluded.state,
		   updated_at = excluded.updated_at,
		   snoozed_until = excluded.snoozed_until,
		   resolved_at = excluded.resolved_at`,
		a.ID, a.EntityID, a.RuleID, string(a.Type), string(a.Severity), a.Message, detailsJSON,
		string(a.State), a.CreatedAt.UTC(), a.UpdatedAt.UTC(), nullTime(a.SnoozedUntil), nullTime(a.ResolvedAt),
	)
	return eris.Wrapf(err, "sqlite: save alert %s", a.ID)
}

func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, rule_id, type, severity, message, details, state, created_at, updated_at, snoozed_until, resolved_at
		 FROM alerts WHERE id = ?`,
		id,
	)
	a, err := scanAlert(row)
	if eris.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: alert %s", id)
	}
	return a, err
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, entity_id, rule_id, type, severity, message, details, state, created_at, updated_at, snoozed_until, resolved_at
	          FROM alerts WHERE 1=1`
	var args []any

	if len(filter.States) > 0 {
		query += ` AND state IN (`
		for i, st := range filter.States {
			if i > 0 {
				query += `, `
			}
			query += `?`
			args = append(args, string(st))
		}
		query += `)`
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, eris.Wrap(rows.Err(), "sqlite: list alerts iterate")
}

func (s *SQLiteStore) EnqueueOutbox(ctx context.Context, entry OutboxEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (id, alert_id, channel_id, kind, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AlertID, entry.ChannelID, entry.Kind, string(entry.Payload),
		string(entry.Status), entry.Attempts, entry.MaxAttempts, entry.NextAttemptAt.UTC(),
		entry.LastError, entry.CreatedAt.UTC(), entry.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: enqueue outbox %s", entry.ID)
}

func (s *SQLiteStore) DueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, channel_id, kind, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		 FROM outbox WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC LIMIT ?`,
		string(OutboxPending), now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due outbox")
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: due outbox iterate")
}

func (s *SQLiteStore) UpdateOutbox(ctx context.Context, entry OutboxEntry) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(entry.Status), entry.Attempts, entry.NextAttemptAt.UTC(), entry.LastError, entry.UpdatedAt.UTC(), entry.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update outbox %s", entry.ID)
	}
	return checkRowsAffected(res, "outbox entry", entry.ID)
}

func (s *SQLiteStore) AppendScorePoint(ctx context.Context, leadID string, p model.ScoreHistoryPoint) error {
	factorsJSON, err := marshalFactors(p.Factors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal factors")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO score_points (lead_id, ts, score, confidence, factors) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (lead_id, ts) DO NOTHING`,
		leadID, p.Timestamp.UTC(), p.Score, p.Confidence, factorsJSON,
	)
	return eris.Wrapf(err, "sqlite: append score point for %s", leadID)
}

func (s *SQLiteStore) ScorePoints(ctx context.Context, leadID string, since time.Time) ([]model.ScoreHistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, score, confidence, factors FROM score_points
		 WHERE lead_id = ? AND ts >= ? ORDER BY ts ASC`,
		leadID, since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: score points for %s", leadID)
	}
	defer rows.Close()

	var points []model.ScoreHistoryPoint
	for rows.Next() {
		p, err := scanScorePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: score points iterate")
}

func (s *SQLiteStore) DeleteScorePointsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM score_points WHERE ts < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete score points")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func marshalDetails(details map[string]any) (sql.NullString, error) {
	if details == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func marshalFactors(factors map[string]float64) (sql.NullString, error) {
	if factors == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(factors)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAlert(row scannable) (*model.Alert, error) {
	var a model.Alert
	var details sql.NullString
	var ruleID sql.NullString
	var snoozedUntil, resolvedAt sql.NullTime

	err := row.Scan(&a.ID, &a.EntityID, &ruleID, &a.Type, &a.Severity, &a.Message, &details,
		&a.State, &a.CreatedAt, &a.UpdatedAt, &snoozedUntil, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan alert")
	}

	a.RuleID = ruleID.String
	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &a.Details); err != nil {
			return nil, eris.Wrap(err, "unmarshal alert details")
		}
	}
	if snoozedUntil.Valid {
		t := snoozedUntil.Time
		a.SnoozedUntil = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}

func scanOutbox(row scannable) (*OutboxEntry, error) {
	var e OutboxEntry
	var payload string
	var lastError sql.NullString

	err := row.Scan(&e.ID, &e.AlertID, &e.ChannelID, &e.Kind, &payload, &e.Status,
		&e.Attempts, &e.MaxAttempts, &e.NextAttemptAt, &lastError, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan outbox entry")
	}

	e.Payload = []byte(payload)
	e.LastError = lastError.String
	return &e, nil
}

func scanScorePoint(row scannable) (*model.ScoreHistoryPoint, error) {
	var p model.ScoreHistoryPoint
	var confidence sql.NullFloat64
	var factors sql.NullString

	if err := row.Scan(&p.Timestamp, &p.Score, &confidence, &factors); err != nil {
		return nil, eris.Wrap(err, "scan score point")
	}

	p.Confidence = confidence.Float64
	if factors.Valid {
		if err := json.Unmarshal([]byte(factors.String), &p.Factors); err != nil {
			return nil, eris.Wrap(err, "unmarshal score factors")
		}
	}
	return &p, nil
}
