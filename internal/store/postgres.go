package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-alerts/internal/db"
	"github.com/sells-group/lead-alerts/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"save_alert": `INSERT INTO alerts (id, entity_id, rule_id, type, severity, message, details, state, created_at, updated_at, snoozed_until, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
		  severity = EXCLUDED.severity,
		  message = EXCLUDED.message,
		  details = EXCLUDED.details,
		  state = EXCLUDED.state,
		  updated_at = EXCLUDED.updated_at,
		  snoozed_until = EXCLUDED.snoozed_until,
		  resolved_at = EXCLUDED.resolved_at`,
	"get_alert": `SELECT id, entity_id, rule_id, type, severity, message, details, state, created_at, updated_at, snoozed_until, resolved_at FROM alerts WHERE id = $1`,
	"enqueue_outbox": `INSERT INTO outbox (id, alert_id, channel_id, kind, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"update_outbox":      `UPDATE outbox SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = $5 WHERE id = $6`,
	"append_score_point": `INSERT INTO score_points (lead_id, ts, score, confidence, factors) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (lead_id, ts) DO NOTHING`,
	"score_points":       `SELECT ts, score, confidence, factors FROM score_points WHERE lead_id = $1 AND ts >= $2 ORDER BY ts ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems
// that need direct query access (e.g., bulk event replay).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	rule_id       TEXT,
	type          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	message       TEXT NOT NULL,
	details       JSONB,
	state         TEXT NOT NULL DEFAULT 'open',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	snoozed_until TIMESTAMPTZ,
	resolved_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS outbox (
	id              TEXT PRIMARY KEY,
	alert_id        TEXT NOT NULL REFERENCES alerts(id),
	channel_id      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	payload         JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 5,
	next_attempt_at TIMESTAMPTZ NOT NULL,
	last_error      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS score_points (
	lead_id    TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	confidence DOUBLE PRECISION,
	factors    JSONB,
	PRIMARY KEY (lead_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);
CREATE INDEX IF NOT EXISTS idx_alerts_entity ON alerts(entity_id);
CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(type);
CREATE INDEX IF NOT EXISTS idx_alerts_entity_type_state ON alerts(entity_id, type, state);
CREATE INDEX IF NOT EXISTS idx_outbox_status_next ON outbox(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_score_points_lead ON score_points(lead_id, ts);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveAlert(ctx context.Context, a model.Alert) error {
	detailsJSON, err := jsonOrNil(a.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal details")
	}

	_, err = s.pool.Exec(ctx, preparedStatements["save_alert"],
		a.ID, a.EntityID, nilIfEmpty(a.RuleID), string(a.Type), string(a.Severity), a.Message, detailsJSON,
		string(a.State), a.CreatedAt.UTC(), a.UpdatedAt.UTC(), a.SnoozedUntil, a.ResolvedAt,
	)
	return eris.Wrapf(err, "postgres: save alert %s", a.ID)
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_alert"], id)
	a, err := scanPgAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: alert %s", id)
	}
	return a, err
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, entity_id, rule_id, type, severity, message, details, state, created_at, updated_at, snoozed_until, resolved_at
	          FROM alerts WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		query += ` AND state = ANY(` + arg(states) + `)`
	}
	if filter.Type != "" {
		query += ` AND type = ` + arg(string(filter.Type))
	}
	if filter.Severity != "" {
		query += ` AND severity = ` + arg(string(filter.Severity))
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ` + arg(filter.EntityID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanPgAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, eris.Wrap(rows.Err(), "postgres: list alerts iterate")
}

func (s *PostgresStore) EnqueueOutbox(ctx context.Context, entry OutboxEntry) error {
	_, err := s.pool.Exec(ctx, preparedStatements["enqueue_outbox"],
		entry.ID, entry.AlertID, entry.ChannelID, entry.Kind, entry.Payload,
		string(entry.Status), entry.Attempts, entry.MaxAttempts, entry.NextAttemptAt.UTC(),
		nilIfEmpty(entry.LastError), entry.CreatedAt.UTC(), entry.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: enqueue outbox %s", entry.ID)
}

func (s *PostgresStore) DueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, alert_id, channel_id, kind, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		 FROM outbox WHERE status = $1 AND next_attempt_at <= $2
		 ORDER BY next_attempt_at ASC LIMIT $3`,
		string(OutboxPending), now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due outbox")
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanPgOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: due outbox iterate")
}

func (s *PostgresStore) UpdateOutbox(ctx context.Context, entry OutboxEntry) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["update_outbox"],
		string(entry.Status), entry.Attempts, entry.NextAttemptAt.UTC(),
		nilIfEmpty(entry.LastError), entry.UpdatedAt.UTC(), entry.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update outbox %s", entry.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "outbox entry %s", entry.ID)
	}
	return nil
}

func (s *PostgresStore) AppendScorePoint(ctx context.Context, leadID string, p model.ScoreHistoryPoint) error {
	factorsJSON, err := jsonOrNilFloats(p.Factors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal factors")
	}

	_, err = s.pool.Exec(ctx, preparedStatements["append_score_point"],
		leadID, p.Timestamp.UTC(), p.Score, p.Confidence, factorsJSON,
	)
	return eris.Wrapf(err, "postgres: append score point for %s", leadID)
}

func (s *PostgresStore) ScorePoints(ctx context.Context, leadID string, since time.Time) ([]model.ScoreHistoryPoint, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["score_points"], leadID, since.UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: score points for %s", leadID)
	}
	defer rows.Close()

	var points []model.ScoreHistoryPoint
	for rows.Next() {
		p, err := scanPgScorePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, eris.Wrap(rows.Err(), "postgres: score points iterate")
}

func (s *PostgresStore) DeleteScorePointsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM score_points WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete score points")
	}
	return int(tag.RowsAffected()), nil
}

// ScorePointRecord pairs a lead id with one history point for bulk loads.
type ScorePointRecord struct {
	LeadID string
	Point  model.ScoreHistoryPoint
}

var scorePointColumns = []string{"lead_id", "ts", "score", "confidence", "factors"}

// BulkAppendScorePoints COPYs score points into score_points. Fastest
// path for backfilling fresh history; a duplicate (lead_id, ts) pair
// fails the whole batch, so use BulkUpsertScorePoints when re-importing.
func (s *PostgresStore) BulkAppendScorePoints(ctx context.Context, points []ScorePointRecord) (int64, error) {
	rows, err := scorePointRows(points)
	if err != nil {
		return 0, err
	}
	return db.CopyFrom(ctx, s.pool, "score_points", scorePointColumns, rows)
}

// BulkUpsertScorePoints bulk-loads score points idempotently: existing
// (lead_id, ts) rows are overwritten instead of failing the batch.
func (s *PostgresStore) BulkUpsertScorePoints(ctx context.Context, points []ScorePointRecord) (int64, error) {
	rows, err := scorePointRows(points)
	if err != nil {
		return 0, err
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "score_points",
		Columns:      scorePointColumns,
		ConflictKeys: []string{"lead_id", "ts"},
	}, rows)
}

func scorePointRows(points []ScorePointRecord) ([][]any, error) {
	rows := make([][]any, 0, len(points))
	for _, rec := range points {
		factorsJSON, err := jsonOrNilFloats(rec.Point.Factors)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal factors for %s", rec.LeadID)
		}
		rows = append(rows, []any{
			rec.LeadID, rec.Point.Timestamp.UTC(), rec.Point.Score, rec.Point.Confidence, factorsJSON,
		})
	}
	return rows, nil
}

// helpers

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNil(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func jsonOrNilFloats(m map[string]float64) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanPgAlert(row pgx.Row) (*model.Alert, error) {
	var a model.Alert
	var details []byte
	var ruleID *string
	var typ, severity, state string
	var snoozedUntil, resolvedAt *time.Time

	err := row.Scan(&a.ID, &a.EntityID, &ruleID, &typ, &severity, &a.Message, &details,
		&state, &a.CreatedAt, &a.UpdatedAt, &snoozedUntil, &resolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan alert")
	}

	a.Type = model.AlertType(typ)
	a.Severity = model.Severity(severity)
	a.State = model.AlertState(state)
	if ruleID != nil {
		a.RuleID = *ruleID
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal alert details")
		}
	}
	a.SnoozedUntil = snoozedUntil
	a.ResolvedAt = resolvedAt
	return &a, nil
}

func scanPgOutbox(row pgx.Row) (*OutboxEntry, error) {
	var e OutboxEntry
	var status string
	var lastError *string

	err := row.Scan(&e.ID, &e.AlertID, &e.ChannelID, &e.Kind, &e.Payload, &status,
		&e.Attempts, &e.MaxAttempts, &e.NextAttemptAt, &lastError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan outbox entry")
	}

	e.Status = OutboxStatus(status)
	if lastError != nil {
		e.LastError = *lastError
	}
	return &e, nil
}

func scanPgScorePoint(row pgx.Row) (*model.ScoreHistoryPoint, error) {
	var p model.ScoreHistoryPoint
	var confidence *float64
	var factors []byte

	if err := row.Scan(&p.Timestamp, &p.Score, &confidence, &factors); err != nil {
		return nil, eris.Wrap(err, "postgres: scan score point")
	}

	if confidence != nil {
		p.Confidence = *confidence
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &p.Factors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal score factors")
		}
	}
	return &p, nil
}
