package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// The memory backend keeps everything in maps guarded by a mutex, which is
// the serialization point the SQL backends get from their uniqueness
// constraints. Used in tests and single-process development runs.

// MemoryQuarantine is an in-memory implementation of the
// QuarantineRepository interface.
type MemoryQuarantine struct {
	mu          sync.Mutex
	logger      *zap.Logger
	nextID      int64
	records     map[int64]*core.QuarantineRecord
	byMessageID map[string]int64
}

// NewMemoryQuarantine creates a new in-memory quarantine store
func NewMemoryQuarantine(logger *zap.Logger) *MemoryQuarantine {
	return &MemoryQuarantine{
		logger:      logger,
		records:     make(map[int64]*core.QuarantineRecord),
		byMessageID: make(map[string]int64),
	}
}

// Insert persists a new quarantine record, resolving duplicate message ids
// to the already-stored record.
func (s *MemoryQuarantine) Insert(ctx context.Context, rec *core.QuarantineRecord) (*core.QuarantineRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byMessageID[rec.MessageID]; ok {
		existing := *s.records[id]
		return &existing, false, nil
	}

	s.nextID++
	stored := *rec
	stored.ID = s.nextID
	stored.Status = core.StatusQuarantined
	s.records[stored.ID] = &stored
	s.byMessageID[stored.MessageID] = stored.ID

	out := stored
	return &out, true, nil
}

// FindByID returns the record with the given store id.
func (s *MemoryQuarantine) FindByID(ctx context.Context, id int64) (*core.QuarantineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *rec
	return &out, nil
}

// FindByMessageID returns the record for a message identity.
func (s *MemoryQuarantine) FindByMessageID(ctx context.Context, messageID string) (*core.QuarantineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byMessageID[messageID]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *s.records[id]
	return &out, nil
}

// List returns records newest first, optionally filtered by status.
func (s *MemoryQuarantine) List(ctx context.Context, status core.QuarantineStatus, limit int) ([]*core.QuarantineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*core.QuarantineRecord, 0, len(s.records))
	for _, rec := range s.records {
		if status != "" && rec.Status != status {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuarantineDate.After(out[j].QuarantineDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transition applies a compare-and-swap status change.
func (s *MemoryQuarantine) Transition(ctx context.Context, id int64, expected, next core.QuarantineStatus, resolvedBy string) (*core.QuarantineRecord, error) {
	if err := core.CheckTransition(expected, next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if rec.Status != expected {
		return nil, fmt.Errorf("%w: record %d is %s, not %s", core.ErrStaleState, id, rec.Status, expected)
	}

	now := time.Now().UTC()
	rec.Status = next
	rec.ResolvedDate = &now
	rec.ResolvedBy = resolvedBy

	s.logger.Info("Quarantine record transitioned",
		zap.Int64("record_id", id),
		zap.String("status", string(next)),
		zap.String("resolved_by", resolvedBy))

	out := *rec
	return &out, nil
}

// Stats computes the aggregate dashboard counts.
func (s *MemoryQuarantine) Stats(ctx context.Context) (*core.DashboardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &core.DashboardStats{}
	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	var sum float64
	for _, rec := range s.records {
		score := rec.Result.CombinedScore
		sum += score
		if rec.Status == core.StatusQuarantined {
			stats.TotalQuarantined++
		}
		if score > 0.8 {
			stats.HighRiskCount++
		} else if score >= 0.5 {
			stats.MediumRiskCount++
		}
		if rec.QuarantineDate.After(dayAgo) {
			stats.TodayCount++
		}
	}
	if len(s.records) > 0 {
		stats.AverageRiskScore = roundPercent(sum / float64(len(s.records)))
	}
	return stats, nil
}

// RecentActivity returns the newest records as activity rows.
func (s *MemoryQuarantine) RecentActivity(ctx context.Context, limit int) ([]*core.ActivityEntry, error) {
	records, err := s.List(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	out := make([]*core.ActivityEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, &core.ActivityEntry{
			Sender:         rec.Message.Sender,
			Subject:        truncateSubject(rec.Message.Subject),
			RiskScore:      roundPercent(rec.Result.CombinedScore),
			RiskTier:       rec.Result.RiskTier,
			QuarantineDate: rec.QuarantineDate,
			Status:         rec.Status,
		})
	}
	return out, nil
}

// Close releases nothing for the in-memory store.
func (s *MemoryQuarantine) Close() error {
	return nil
}

// MemoryIncidents is an in-memory implementation of the IncidentRepository
// interface.
type MemoryIncidents struct {
	mu           sync.Mutex
	logger       *zap.Logger
	incidents    map[string]*core.IncidentRecord
	byQuarantine map[int64]string
	actionIndex  map[string]map[string]bool
}

// NewMemoryIncidents creates a new in-memory incident store
func NewMemoryIncidents(logger *zap.Logger) *MemoryIncidents {
	return &MemoryIncidents{
		logger:       logger,
		incidents:    make(map[string]*core.IncidentRecord),
		byQuarantine: make(map[int64]string),
		actionIndex:  make(map[string]map[string]bool),
	}
}

// Create persists an incident, one per quarantine record.
func (s *MemoryIncidents) Create(ctx context.Context, inc *core.IncidentRecord) (*core.IncidentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byQuarantine[inc.QuarantineID]; ok {
		return cloneIncident(s.incidents[existingID]), false, nil
	}

	stored := cloneIncident(inc)
	s.incidents[stored.ID] = stored
	s.byQuarantine[stored.QuarantineID] = stored.ID
	s.actionIndex[stored.ID] = make(map[string]bool)

	return cloneIncident(stored), true, nil
}

// FindByID returns an incident with its action log.
func (s *MemoryIncidents) FindByID(ctx context.Context, id string) (*core.IncidentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneIncident(inc), nil
}

// FindByQuarantineID returns the incident opened for a quarantine record.
func (s *MemoryIncidents) FindByQuarantineID(ctx context.Context, quarantineID int64) (*core.IncidentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byQuarantine[quarantineID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneIncident(s.incidents[id]), nil
}

// RecordAction appends one action, deduplicated on (type, target).
func (s *MemoryIncidents) RecordAction(ctx context.Context, incidentID string, action core.ResponseAction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[incidentID]
	if !ok {
		return false, core.ErrNotFound
	}
	key := actionKey(action.Type, action.Target)
	if s.actionIndex[incidentID][key] {
		return false, nil
	}
	s.actionIndex[incidentID][key] = true
	inc.Actions = append(inc.Actions, action)
	return true, nil
}

// ActionRecorded reports whether the action log holds (type, target).
func (s *MemoryIncidents) ActionRecorded(ctx context.Context, incidentID string, actionType core.ActionType, target string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.actionIndex[incidentID]
	if !ok {
		return false, core.ErrNotFound
	}
	return idx[actionKey(actionType, target)], nil
}

// Close releases nothing for the in-memory store.
func (s *MemoryIncidents) Close() error {
	return nil
}

// MemoryBlacklist is an in-memory implementation of the BlacklistRepository
// interface.
type MemoryBlacklist struct {
	mu      sync.Mutex
	logger  *zap.Logger
	entries map[string]*core.BlacklistEntry
}

// NewMemoryBlacklist creates a new in-memory blacklist store
func NewMemoryBlacklist(logger *zap.Logger) *MemoryBlacklist {
	return &MemoryBlacklist{
		logger:  logger,
		entries: make(map[string]*core.BlacklistEntry),
	}
}

// Upsert adds a blacklist entry or refreshes last-seen on an existing value.
func (s *MemoryBlacklist) Upsert(ctx context.Context, entry *core.BlacklistEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := strings.ToLower(entry.Value)
	if existing, ok := s.entries[value]; ok {
		existing.LastSeen = entry.LastSeen
		return false, nil
	}
	stored := *entry
	stored.Value = value
	s.entries[value] = &stored
	return true, nil
}

// Contains reports whether value is blacklisted.
func (s *MemoryBlacklist) Contains(ctx context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[strings.ToLower(value)]
	return ok, nil
}

// All returns every blacklist entry, newest first.
func (s *MemoryBlacklist) All(ctx context.Context) ([]*core.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*core.BlacklistEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		copied := *entry
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AddedAt.After(out[j].AddedAt)
	})
	return out, nil
}

// Close releases nothing for the in-memory store.
func (s *MemoryBlacklist) Close() error {
	return nil
}

func cloneIncident(inc *core.IncidentRecord) *core.IncidentRecord {
	out := *inc
	out.Actions = append([]core.ResponseAction(nil), inc.Actions...)
	return &out
}

func actionKey(actionType core.ActionType, target string) string {
	return string(actionType) + "|" + target
}

func truncateSubject(subject string) string {
	if len(subject) > 50 {
		return subject[:50] + "..."
	}
	return subject
}

func roundPercent(score float64) float64 {
	return float64(int(score*1000+0.5)) / 10
}
