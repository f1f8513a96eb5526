package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// OpenMySQL connects to MySQL and prepares the quarantine, incident and
// blacklist tables.
func OpenMySQL(dsn string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS quarantined_emails (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			message_id VARCHAR(255) NOT NULL UNIQUE,
			sender VARCHAR(512),
			subject VARCHAR(1024),
			combined_score DOUBLE NOT NULL,
			risk_tier VARCHAR(16) NOT NULL,
			status VARCHAR(32) NOT NULL,
			quarantine_date VARCHAR(35) NOT NULL,
			resolved_date VARCHAR(35),
			resolved_by VARCHAR(255),
			message_json LONGTEXT NOT NULL,
			features_json LONGTEXT,
			result_json LONGTEXT NOT NULL,
			INDEX idx_quarantine_status (status),
			INDEX idx_quarantine_date (quarantine_date)
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id VARCHAR(64) PRIMARY KEY,
			quarantine_id BIGINT NOT NULL UNIQUE,
			risk_tier VARCHAR(16) NOT NULL,
			created_at VARCHAR(35) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS incident_actions (
			incident_id VARCHAR(64) NOT NULL,
			action_type VARCHAR(32) NOT NULL,
			target VARCHAR(512) NOT NULL,
			status VARCHAR(16) NOT NULL,
			attempts INT NOT NULL,
			executed_at VARCHAR(35) NOT NULL,
			UNIQUE KEY uniq_incident_action (incident_id, action_type, target(255))
		)`,
		`CREATE TABLE IF NOT EXISTS blacklist (
			value VARCHAR(255) PRIMARY KEY,
			reason VARCHAR(512),
			added_date VARCHAR(35) NOT NULL,
			last_seen VARCHAR(35) NOT NULL,
			source_incident_id VARCHAR(64)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare schema: %w", err)
		}
	}

	logger.Info("Opened MySQL store")
	return db, nil
}

// MySQLQuarantine is a MySQL implementation of the QuarantineRepository
// interface.
type MySQLQuarantine struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLQuarantine creates a new MySQL quarantine store
func NewMySQLQuarantine(db *sql.DB, logger *zap.Logger) *MySQLQuarantine {
	return &MySQLQuarantine{db: db, logger: logger}
}

// Insert persists a new quarantine record; a duplicate message_id resolves
// to the stored record.
func (s *MySQLQuarantine) Insert(ctx context.Context, rec *core.QuarantineRecord) (*core.QuarantineRecord, bool, error) {
	messageJSON, featuresJSON, resultJSON, err := marshalRecord(rec)
	if err != nil {
		return nil, false, err
	}
	var features interface{}
	if featuresJSON != "" {
		features = featuresJSON
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO quarantined_emails
			(message_id, sender, subject, combined_score, risk_tier, status, quarantine_date, message_json, features_json, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.MessageID, rec.Message.Sender, rec.Message.Subject,
		rec.Result.CombinedScore, string(rec.Result.RiskTier), string(core.StatusQuarantined),
		rec.QuarantineDate.UTC().Format(time.RFC3339), messageJSON, features, resultJSON)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert quarantine record: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}

	stored, err := s.FindByMessageID(ctx, rec.MessageID)
	if err != nil {
		return nil, false, err
	}
	return stored, rows > 0, nil
}

// FindByID returns the record with the given store id.
func (s *MySQLQuarantine) FindByID(ctx context.Context, id int64) (*core.QuarantineRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+quarantineColumns+` FROM quarantined_emails WHERE id = ?`, id)
	return scanQuarantineRecord(row)
}

// FindByMessageID returns the record for a message identity.
func (s *MySQLQuarantine) FindByMessageID(ctx context.Context, messageID string) (*core.QuarantineRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+quarantineColumns+` FROM quarantined_emails WHERE message_id = ?`, messageID)
	return scanQuarantineRecord(row)
}

// List returns records newest first, optionally filtered by status.
func (s *MySQLQuarantine) List(ctx context.Context, status core.QuarantineStatus, limit int) ([]*core.QuarantineRecord, error) {
	query := `SELECT ` + quarantineColumns + ` FROM quarantined_emails`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY quarantine_date DESC LIMIT ?`
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarantine records: %w", err)
	}
	defer rows.Close()

	var out []*core.QuarantineRecord
	for rows.Next() {
		rec, err := scanQuarantineRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Transition applies a compare-and-swap status change guarded by the stored
// status in the WHERE clause.
func (s *MySQLQuarantine) Transition(ctx context.Context, id int64, expected, next core.QuarantineStatus, resolvedBy string) (*core.QuarantineRecord, error) {
	if err := core.CheckTransition(expected, next); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE quarantined_emails
		SET status = ?, resolved_date = ?, resolved_by = ?
		WHERE id = ? AND status = ?
	`, string(next), now, resolvedBy, id, string(expected))
	if err != nil {
		return nil, fmt.Errorf("failed to transition quarantine record: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read transition result: %w", err)
	}
	if rows == 0 {
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM quarantined_emails WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to inspect quarantine record: %w", err)
		}
		return nil, fmt.Errorf("%w: record %d is %s, not %s", core.ErrStaleState, id, current, expected)
	}

	s.logger.Info("Quarantine record transitioned",
		zap.Int64("record_id", id),
		zap.String("status", string(next)),
		zap.String("resolved_by", resolvedBy))

	return s.FindByID(ctx, id)
}

// Stats computes the aggregate dashboard counts.
func (s *MySQLQuarantine) Stats(ctx context.Context) (*core.DashboardStats, error) {
	stats := &core.DashboardStats{}
	dayAgo := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)

	queries := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&stats.TotalQuarantined, `SELECT COUNT(*) FROM quarantined_emails WHERE status = ?`, []interface{}{string(core.StatusQuarantined)}},
		{&stats.HighRiskCount, `SELECT COUNT(*) FROM quarantined_emails WHERE combined_score > 0.8`, nil},
		{&stats.MediumRiskCount, `SELECT COUNT(*) FROM quarantined_emails WHERE combined_score BETWEEN 0.5 AND 0.8`, nil},
		{&stats.TodayCount, `SELECT COUNT(*) FROM quarantined_emails WHERE quarantine_date >= ?`, []interface{}{dayAgo}},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(combined_score) FROM quarantined_emails`).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to compute average score: %w", err)
	}
	if avg.Valid {
		stats.AverageRiskScore = roundPercent(avg.Float64)
	}
	return stats, nil
}

// RecentActivity returns the newest records as activity rows.
func (s *MySQLQuarantine) RecentActivity(ctx context.Context, limit int) ([]*core.ActivityEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender, subject, combined_score, risk_tier, quarantine_date, status
		FROM quarantined_emails
		ORDER BY quarantine_date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent activity: %w", err)
	}
	defer rows.Close()

	var out []*core.ActivityEntry
	for rows.Next() {
		var entry core.ActivityEntry
		var score float64
		var tier, date, status string
		if err := rows.Scan(&entry.Sender, &entry.Subject, &score, &tier, &date, &status); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		entry.Subject = truncateSubject(entry.Subject)
		entry.RiskScore = roundPercent(score)
		entry.RiskTier = core.RiskTier(tier)
		entry.Status = core.QuarantineStatus(status)
		if entry.QuarantineDate, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, fmt.Errorf("failed to parse quarantine date: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *MySQLQuarantine) Close() error {
	return s.db.Close()
}

// MySQLIncidents is a MySQL implementation of the IncidentRepository
// interface.
type MySQLIncidents struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLIncidents creates a new MySQL incident store
func NewMySQLIncidents(db *sql.DB, logger *zap.Logger) *MySQLIncidents {
	return &MySQLIncidents{db: db, logger: logger}
}

// Create persists an incident, one per quarantine record.
func (s *MySQLIncidents) Create(ctx context.Context, inc *core.IncidentRecord) (*core.IncidentRecord, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO incidents (id, quarantine_id, risk_tier, created_at)
		VALUES (?, ?, ?, ?)
	`, inc.ID, inc.QuarantineID, string(inc.RiskTier), inc.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert incident: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}

	stored, err := s.FindByQuarantineID(ctx, inc.QuarantineID)
	if err != nil {
		return nil, false, err
	}
	return stored, rows > 0, nil
}

// FindByID returns an incident with its action log.
func (s *MySQLIncidents) FindByID(ctx context.Context, id string) (*core.IncidentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, quarantine_id, risk_tier, created_at FROM incidents WHERE id = ?`, id)
	return s.scanIncident(ctx, row)
}

// FindByQuarantineID returns the incident opened for a quarantine record.
func (s *MySQLIncidents) FindByQuarantineID(ctx context.Context, quarantineID int64) (*core.IncidentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, quarantine_id, risk_tier, created_at FROM incidents WHERE quarantine_id = ?`, quarantineID)
	return s.scanIncident(ctx, row)
}

// RecordAction appends one action, deduplicated on (type, target).
func (s *MySQLIncidents) RecordAction(ctx context.Context, incidentID string, action core.ResponseAction) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM incidents WHERE id = ?)`, incidentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check incident: %w", err)
	}
	if !exists {
		return false, core.ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO incident_actions (incident_id, action_type, target, status, attempts, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, incidentID, string(action.Type), action.Target, string(action.Status),
		action.Attempts, action.ExecutedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("failed to record action: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read action insert result: %w", err)
	}
	return rows > 0, nil
}

// ActionRecorded reports whether the action log holds (type, target).
func (s *MySQLIncidents) ActionRecorded(ctx context.Context, incidentID string, actionType core.ActionType, target string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM incident_actions
			WHERE incident_id = ? AND action_type = ? AND target = ?
		)
	`, incidentID, string(actionType), target).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check action log: %w", err)
	}
	return exists, nil
}

// Close closes the underlying database handle.
func (s *MySQLIncidents) Close() error {
	return s.db.Close()
}

func (s *MySQLIncidents) scanIncident(ctx context.Context, row rowScanner) (*core.IncidentRecord, error) {
	var inc core.IncidentRecord
	var tier, createdAt string
	err := row.Scan(&inc.ID, &inc.QuarantineID, &tier, &createdAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan incident: %w", err)
	}
	inc.RiskTier = core.RiskTier(tier)
	if inc.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse incident timestamp: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action_type, target, status, attempts, executed_at
		FROM incident_actions
		WHERE incident_id = ?
		ORDER BY executed_at
	`, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action core.ResponseAction
		var typ, status, executedAt string
		if err := rows.Scan(&typ, &action.Target, &status, &action.Attempts, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		action.Type = core.ActionType(typ)
		action.Status = core.ActionStatus(status)
		if action.ExecutedAt, err = time.Parse(time.RFC3339, executedAt); err != nil {
			return nil, fmt.Errorf("failed to parse action timestamp: %w", err)
		}
		inc.Actions = append(inc.Actions, action)
	}
	return &inc, rows.Err()
}

// MySQLBlacklist is a MySQL implementation of the BlacklistRepository
// interface.
type MySQLBlacklist struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLBlacklist creates a new MySQL blacklist store
func NewMySQLBlacklist(db *sql.DB, logger *zap.Logger) *MySQLBlacklist {
	return &MySQLBlacklist{db: db, logger: logger}
}

// Upsert adds a blacklist entry or refreshes last-seen on an existing value.
func (s *MySQLBlacklist) Upsert(ctx context.Context, entry *core.BlacklistEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO blacklist (value, reason, added_date, last_seen, source_incident_id)
		VALUES (?, ?, ?, ?, ?)
	`, normalizeValue(entry.Value), entry.Reason,
		entry.AddedAt.UTC().Format(time.RFC3339), entry.LastSeen.UTC().Format(time.RFC3339),
		entry.SourceIncidentID)
	if err != nil {
		return false, fmt.Errorf("failed to insert blacklist entry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read blacklist insert result: %w", err)
	}
	if rows > 0 {
		s.logger.Info("Blacklisted value", zap.String("value", entry.Value))
		return true, nil
	}

	_, err = s.db.ExecContext(ctx, `UPDATE blacklist SET last_seen = ? WHERE value = ?`,
		entry.LastSeen.UTC().Format(time.RFC3339), normalizeValue(entry.Value))
	if err != nil {
		return false, fmt.Errorf("failed to refresh blacklist entry: %w", err)
	}
	return false, nil
}

// Contains reports whether value is blacklisted.
func (s *MySQLBlacklist) Contains(ctx context.Context, value string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blacklist WHERE value = ?)`, normalizeValue(value)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

// All returns every blacklist entry, newest first.
func (s *MySQLBlacklist) All(ctx context.Context) ([]*core.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value, reason, added_date, last_seen, source_incident_id
		FROM blacklist
		ORDER BY added_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer rows.Close()

	var out []*core.BlacklistEntry
	for rows.Next() {
		var entry core.BlacklistEntry
		var added, lastSeen string
		if err := rows.Scan(&entry.Value, &entry.Reason, &added, &lastSeen, &entry.SourceIncidentID); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist row: %w", err)
		}
		if entry.AddedAt, err = time.Parse(time.RFC3339, added); err != nil {
			return nil, fmt.Errorf("failed to parse blacklist timestamp: %w", err)
		}
		if entry.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
			return nil, fmt.Errorf("failed to parse blacklist timestamp: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *MySQLBlacklist) Close() error {
	return s.db.Close()
}
