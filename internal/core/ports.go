package core

import (
	"context"
)

// Scorer wraps a trained classifier. Implementations return a probability in
// [0,1]; anything outside the range is clamped by the pipeline.
type Scorer interface {
	Score(ctx context.Context, msg *Message, features *FeatureVector) (float64, error)

	// Name identifies the model for audit (stored on ScoreResult).
	Name() string
}

// AnalysisResult is what the attachment analyzer could recover from one
// attachment. Any field may be absent; a failed lookup is not an error for
// the caller.
type AnalysisResult struct {
	ExtractedText   string
	ReputationScore float64
	ReputationKnown bool
}

// Analyzer is the attachment-analysis capability (OCR text extraction,
// reputation lookup). Errors degrade the corresponding facts to unknown.
type Analyzer interface {
	Analyze(ctx context.Context, att *Attachment) (*AnalysisResult, error)
}

// MailSource yields a finite batch of raw messages per poll.
type MailSource interface {
	Fetch(ctx context.Context) ([]*Message, error)
}

// Notifier is the notification transport used by response actions.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// QuarantineRepository owns QuarantineRecord persistence and its state
// machine.
type QuarantineRepository interface {
	// Insert persists a new record in StatusQuarantined. Inserting a
	// message_id that already exists is a no-op: the stored record is
	// returned and created is false.
	Insert(ctx context.Context, rec *QuarantineRecord) (stored *QuarantineRecord, created bool, err error)

	FindByID(ctx context.Context, id int64) (*QuarantineRecord, error)
	FindByMessageID(ctx context.Context, messageID string) (*QuarantineRecord, error)
	List(ctx context.Context, status QuarantineStatus, limit int) ([]*QuarantineRecord, error)

	// Transition moves a record from expected to next, setting resolved_date
	// and resolved_by atomically with the status change. It fails with
	// ErrInvalidStateTransition when expected is terminal or next is not a
	// legal successor, and with ErrStaleState when the stored status no
	// longer matches expected.
	Transition(ctx context.Context, id int64, expected, next QuarantineStatus, resolvedBy string) (*QuarantineRecord, error)

	Stats(ctx context.Context) (*DashboardStats, error)
	RecentActivity(ctx context.Context, limit int) ([]*ActivityEntry, error)

	Close() error
}

// IncidentRepository owns IncidentRecord persistence and the dedup guarantee
// on the action log.
type IncidentRepository interface {
	// Create persists a new incident. One incident per quarantine record:
	// creating a second one returns the existing incident and created false.
	Create(ctx context.Context, inc *IncidentRecord) (stored *IncidentRecord, created bool, err error)

	FindByID(ctx context.Context, id string) (*IncidentRecord, error)
	FindByQuarantineID(ctx context.Context, quarantineID int64) (*IncidentRecord, error)

	// RecordAction appends one action to the incident log. Recording the
	// same (type, target) twice for an incident is a no-op returning false.
	RecordAction(ctx context.Context, incidentID string, action ResponseAction) (recorded bool, err error)

	// ActionRecorded reports whether the incident log already holds an entry
	// for (type, target).
	ActionRecorded(ctx context.Context, incidentID string, actionType ActionType, target string) (bool, error)

	Close() error
}

// BlacklistRepository owns BlacklistEntry persistence. Value is the
// serialization point for concurrent inserts.
type BlacklistRepository interface {
	// Upsert adds the entry or, when value already exists, refreshes its
	// last-seen timestamp. created is false for the refresh case.
	Upsert(ctx context.Context, entry *BlacklistEntry) (created bool, err error)

	Contains(ctx context.Context, value string) (bool, error)
	All(ctx context.Context) ([]*BlacklistEntry, error)

	Close() error
}
