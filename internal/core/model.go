package core

import (
	"fmt"
	"strings"
	"time"
)

// Attachment is one attachment as received, plus any text recovered from it
// by the attachment analyzer.
type Attachment struct {
	Filename      string
	Content       []byte
	ExtractedText string
}

// Message is an immutable record of one email as received from the mail
// source. It is created once on ingestion and never mutated afterwards.
type Message struct {
	ID          string
	Sender      string
	Recipients  []string
	Subject     string
	Body        string
	Attachments []Attachment
	Headers     map[string][]string
	ReceivedAt  time.Time
}

// MessageID derives a stable message identity from the transport message id
// and the receipt timestamp, so redelivery of the same transport message maps
// to the same identity.
func MessageID(transportID string, receivedAt time.Time) string {
	return fmt.Sprintf("%s-%d", transportID, receivedAt.UTC().Unix())
}

// FeatureVector is the per-message derived representation: numeric features
// for the scorer plus named facts evaluated by the rule engine. It lives for
// one pipeline run and is only persisted alongside quarantined messages.
type FeatureVector struct {
	Values map[string]float64     `json:"values"`
	Facts  map[string]interface{} `json:"facts"`
}

// FactBool returns a boolean fact, false if absent or of another type.
func (fv *FeatureVector) FactBool(name string) bool {
	v, ok := fv.Facts[name].(bool)
	return ok && v
}

// FactFloat returns a numeric fact and whether it is present.
func (fv *FeatureVector) FactFloat(name string) (float64, bool) {
	switch v := fv.Facts[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// FactString returns a string fact, "" if absent.
func (fv *FeatureVector) FactString(name string) string {
	v, _ := fv.Facts[name].(string)
	return v
}

// RiskTier is the discrete risk bucket derived from the combined score.
type RiskTier string

const (
	TierMinimal RiskTier = "MINIMAL"
	TierLow     RiskTier = "LOW"
	TierMedium  RiskTier = "MEDIUM"
	TierHigh    RiskTier = "HIGH"
)

var tierRank = map[RiskTier]int{
	TierMinimal: 0,
	TierLow:     1,
	TierMedium:  2,
	TierHigh:    3,
}

// AtLeast reports whether t is the same tier as other or a higher one.
func (t RiskTier) AtLeast(other RiskTier) bool {
	return tierRank[t] >= tierRank[other]
}

// ValidTier reports whether t is one of the known risk tiers.
func ValidTier(t RiskTier) bool {
	_, ok := tierRank[t]
	return ok
}

// ScoreResult is the outcome of scoring one message: the two raw signals,
// the combined score and its tier, and the rules that fired.
type ScoreResult struct {
	MLScore        float64  `json:"ml_score"`
	RuleScore      float64  `json:"rule_score"`
	TriggeredRules []string `json:"triggered_rules"`
	CombinedScore  float64  `json:"combined_score"`
	RiskTier       RiskTier `json:"risk_tier"`
	// Degraded marks a result computed without a live ML signal, so
	// downstream consumers can surface rule-only decisions differently.
	Degraded  bool      `json:"degraded"`
	ModelUsed string    `json:"model_used"`
	ScoredAt  time.Time `json:"scored_at"`
}

// QuarantineStatus is the lifecycle state of a quarantine record.
type QuarantineStatus string

const (
	StatusQuarantined   QuarantineStatus = "quarantined"
	StatusReleased      QuarantineStatus = "released"
	StatusDeleted       QuarantineStatus = "deleted"
	StatusFalsePositive QuarantineStatus = "false_positive"
)

// Terminal reports whether no further transition may leave this status.
func (s QuarantineStatus) Terminal() bool {
	return s == StatusReleased || s == StatusDeleted || s == StatusFalsePositive
}

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s QuarantineStatus) bool {
	switch s {
	case StatusQuarantined, StatusReleased, StatusDeleted, StatusFalsePositive:
		return true
	}
	return false
}

// CheckTransition validates that expected -> next is a legal state machine
// edge. Only quarantined records move, and only into a terminal state; any
// other request is ErrInvalidStateTransition before the store is consulted.
func CheckTransition(expected, next QuarantineStatus) error {
	if expected != StatusQuarantined || !ValidStatus(next) || !next.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, expected, next)
	}
	return nil
}

// QuarantineRecord is the durable record of a message held for review.
// MessageID is unique across records; inserting the same message twice
// resolves to the already-stored record.
type QuarantineRecord struct {
	ID             int64            `json:"id"`
	MessageID      string           `json:"message_id"`
	Message        *Message         `json:"message"`
	Features       *FeatureVector   `json:"features,omitempty"`
	Result         ScoreResult      `json:"score_result"`
	Status         QuarantineStatus `json:"status"`
	QuarantineDate time.Time        `json:"quarantine_date"`
	ResolvedDate   *time.Time       `json:"resolved_date,omitempty"`
	ResolvedBy     string           `json:"resolved_by,omitempty"`
}

// ActionType identifies one automated response action.
type ActionType string

const (
	ActionBlacklistDomain ActionType = "blacklist_domain"
	ActionNotifySOC       ActionType = "notify_soc"
	ActionNotifyRecipient ActionType = "notify_recipient"
)

// ActionStatus is the recorded outcome of a response action.
type ActionStatus string

const (
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// ResponseAction is one entry in an incident's action log.
type ResponseAction struct {
	Type       ActionType   `json:"type"`
	Target     string       `json:"target"`
	Status     ActionStatus `json:"status"`
	Attempts   int          `json:"attempts"`
	ExecutedAt time.Time    `json:"executed_at"`
}

// IncidentRecord ties a quarantined message above the incident threshold to
// the response actions taken for it. The action log is append-only and never
// holds the same (type, target) pair twice.
type IncidentRecord struct {
	ID           string           `json:"id"`
	QuarantineID int64            `json:"quarantine_id"`
	RiskTier     RiskTier         `json:"risk_tier"`
	CreatedAt    time.Time        `json:"created_at"`
	Actions      []ResponseAction `json:"actions"`
}

// BlacklistEntry is one blocked domain or IP. Value is unique; re-adding an
// existing value refreshes LastSeen instead of duplicating.
type BlacklistEntry struct {
	Value            string    `json:"value"`
	Reason           string    `json:"reason"`
	AddedAt          time.Time `json:"added_date"`
	LastSeen         time.Time `json:"last_seen"`
	SourceIncidentID string    `json:"source_incident_id"`
}

// DashboardStats are the derived aggregate counts shown on the dashboard.
type DashboardStats struct {
	TotalQuarantined int     `json:"total_quarantined"`
	HighRiskCount    int     `json:"high_risk_count"`
	MediumRiskCount  int     `json:"medium_risk_count"`
	TodayCount       int     `json:"today_count"`
	AverageRiskScore float64 `json:"average_risk_score"`
}

// ActivityEntry is one row of the recent-activity feed.
type ActivityEntry struct {
	Sender         string           `json:"sender"`
	Subject        string           `json:"subject"`
	RiskScore      float64          `json:"risk_score"`
	RiskTier       RiskTier         `json:"risk_tier"`
	QuarantineDate time.Time        `json:"date"`
	Status         QuarantineStatus `json:"status"`
}

// SenderDomain extracts the domain part of an address, "" when malformed.
// Accepts both bare addresses and "Name <user@domain>" forms.
func SenderDomain(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			domain := address[i+1:]
			if j := strings.IndexByte(domain, '>'); j >= 0 {
				domain = domain[:j]
			}
			return strings.TrimSpace(domain)
		}
	}
	return ""
}
