package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentNote struct {
	recipient string
	subject   string
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentNote
	failures map[string]int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failures: make(map[string]int)}
}

func (n *fakeNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures[recipient] > 0 {
		n.failures[recipient]--
		return errors.New("smtp relay unavailable")
	}
	n.sent = append(n.sent, sentNote{recipient: recipient, subject: subject})
	return nil
}

func (n *fakeNotifier) sentTo(recipient string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.recipient == recipient {
			count++
		}
	}
	return count
}

// memory-store fakes for the repositories the orchestrator needs

type memIncidents struct {
	mu          sync.Mutex
	byID        map[string]*IncidentRecord
	byQuar      map[int64]*IncidentRecord
	actionIndex map[string]map[string]bool
}

func newMemIncidents() *memIncidents {
	return &memIncidents{
		byID:        make(map[string]*IncidentRecord),
		byQuar:      make(map[int64]*IncidentRecord),
		actionIndex: make(map[string]map[string]bool),
	}
}

func (m *memIncidents) Create(ctx context.Context, inc *IncidentRecord) (*IncidentRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byQuar[inc.QuarantineID]; ok {
		return existing, false, nil
	}
	stored := *inc
	m.byID[inc.ID] = &stored
	m.byQuar[inc.QuarantineID] = &stored
	m.actionIndex[inc.ID] = make(map[string]bool)
	return &stored, true, nil
}

func (m *memIncidents) FindByID(ctx context.Context, id string) (*IncidentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *inc
	copied.Actions = append([]ResponseAction(nil), inc.Actions...)
	return &copied, nil
}

func (m *memIncidents) FindByQuarantineID(ctx context.Context, quarantineID int64) (*IncidentRecord, error) {
	m.mu.Lock()
	inc, ok := m.byQuar[quarantineID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindByID(context.Background(), inc.ID)
}

func (m *memIncidents) RecordAction(ctx context.Context, incidentID string, action ResponseAction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.byID[incidentID]
	if !ok {
		return false, ErrNotFound
	}
	key := string(action.Type) + "|" + action.Target
	if m.actionIndex[incidentID][key] {
		return false, nil
	}
	m.actionIndex[incidentID][key] = true
	inc.Actions = append(inc.Actions, action)
	return true, nil
}

func (m *memIncidents) ActionRecorded(ctx context.Context, incidentID string, actionType ActionType, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actionIndex[incidentID][string(actionType)+"|"+target], nil
}

func (m *memIncidents) Close() error { return nil }

type memBlacklist struct {
	mu      sync.Mutex
	entries map[string]*BlacklistEntry
	upserts int
}

func newMemBlacklist() *memBlacklist {
	return &memBlacklist{entries: make(map[string]*BlacklistEntry)}
}

func (m *memBlacklist) Upsert(ctx context.Context, entry *BlacklistEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if existing, ok := m.entries[entry.Value]; ok {
		existing.LastSeen = entry.LastSeen
		return false, nil
	}
	copied := *entry
	m.entries[entry.Value] = &copied
	return true, nil
}

func (m *memBlacklist) Contains(ctx context.Context, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[value]
	return ok, nil
}

func (m *memBlacklist) All(ctx context.Context) ([]*BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memBlacklist) Close() error { return nil }

func testResponderConfig() ResponderConfig {
	return ResponderConfig{
		IncidentTier: TierMedium,
		SOCAddress:   "soc@example.com",
		Retry:        RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 2},
	}
}

func quarantinedRecord(id int64, tier RiskTier) *QuarantineRecord {
	return &QuarantineRecord{
		ID:        id,
		MessageID: fmt.Sprintf("msg-%d", id),
		Message: &Message{
			ID:         fmt.Sprintf("msg-%d", id),
			Sender:     "attacker@phish.example",
			Recipients: []string{"alice@corp.example", "bob@corp.example"},
			Subject:    "Invoice overdue",
		},
		Result: ScoreResult{
			CombinedScore:  0.85,
			RiskTier:       tier,
			TriggeredRules: []string{"urgency_language"},
		},
		Status:         StatusQuarantined,
		QuarantineDate: time.Now().UTC(),
	}
}

func newTestOrchestrator(t *testing.T, incidents IncidentRepository, blacklist BlacklistRepository, notifier Notifier, cfg ResponderConfig) *ResponseOrchestrator {
	t.Helper()
	o, err := NewResponseOrchestrator(incidents, blacklist, notifier, cfg, zap.NewNop())
	require.NoError(t, err)
	return o
}

func TestResponderConfigValidate(t *testing.T) {
	cfg := testResponderConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.IncidentTier = "SEVERE"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfiguration)

	bad = cfg
	bad.Retry.MaxAttempts = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfiguration)

	bad = cfg
	bad.Retry.Multiplier = 0.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfiguration)
}

func TestRespondBelowIncidentTier(t *testing.T) {
	o := newTestOrchestrator(t, newMemIncidents(), newMemBlacklist(), newFakeNotifier(), testResponderConfig())

	inc, err := o.Respond(context.Background(), quarantinedRecord(1, TierLow))
	require.NoError(t, err)
	assert.Nil(t, inc)
}

func TestRespondMediumTier(t *testing.T) {
	notifier := newFakeNotifier()
	blacklist := newMemBlacklist()
	o := newTestOrchestrator(t, newMemIncidents(), blacklist, notifier, testResponderConfig())

	inc, err := o.Respond(context.Background(), quarantinedRecord(1, TierMedium))
	require.NoError(t, err)
	require.NotNil(t, inc)

	require.Len(t, inc.Actions, 1)
	assert.Equal(t, ActionNotifySOC, inc.Actions[0].Type)
	assert.Equal(t, ActionCompleted, inc.Actions[0].Status)
	assert.Equal(t, 1, notifier.sentTo("soc@example.com"))

	blocked, err := blacklist.Contains(context.Background(), "phish.example")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRespondHighTier(t *testing.T) {
	notifier := newFakeNotifier()
	blacklist := newMemBlacklist()
	o := newTestOrchestrator(t, newMemIncidents(), blacklist, notifier, testResponderConfig())

	inc, err := o.Respond(context.Background(), quarantinedRecord(1, TierHigh))
	require.NoError(t, err)
	require.NotNil(t, inc)

	// soc + blacklist + one per recipient
	assert.Len(t, inc.Actions, 4)
	assert.Equal(t, 1, notifier.sentTo("soc@example.com"))
	assert.Equal(t, 1, notifier.sentTo("alice@corp.example"))
	assert.Equal(t, 1, notifier.sentTo("bob@corp.example"))

	blocked, err := blacklist.Contains(context.Background(), "phish.example")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestRespondIdempotent(t *testing.T) {
	notifier := newFakeNotifier()
	blacklist := newMemBlacklist()
	incidents := newMemIncidents()
	o := newTestOrchestrator(t, incidents, blacklist, notifier, testResponderConfig())

	rec := quarantinedRecord(1, TierHigh)
	first, err := o.Respond(context.Background(), rec)
	require.NoError(t, err)

	second, err := o.Respond(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Actions, 4)
	assert.Equal(t, 1, notifier.sentTo("soc@example.com"))
	assert.Equal(t, 1, notifier.sentTo("alice@corp.example"))
	assert.Equal(t, 1, blacklist.upserts)
}

func TestRespondRetriesThenSucceeds(t *testing.T) {
	notifier := newFakeNotifier()
	notifier.failures["soc@example.com"] = 2
	o := newTestOrchestrator(t, newMemIncidents(), newMemBlacklist(), notifier, testResponderConfig())

	inc, err := o.Respond(context.Background(), quarantinedRecord(1, TierMedium))
	require.NoError(t, err)
	require.Len(t, inc.Actions, 1)

	assert.Equal(t, ActionCompleted, inc.Actions[0].Status)
	assert.Equal(t, 3, inc.Actions[0].Attempts)
	assert.Equal(t, 1, notifier.sentTo("soc@example.com"))
}

func TestRespondRecordsExhaustedFailure(t *testing.T) {
	notifier := newFakeNotifier()
	notifier.failures["alice@corp.example"] = 99
	o := newTestOrchestrator(t, newMemIncidents(), newMemBlacklist(), notifier, testResponderConfig())

	inc, err := o.Respond(context.Background(), quarantinedRecord(1, TierHigh))
	require.NoError(t, err)
	require.NotNil(t, inc)

	var failed *ResponseAction
	for i := range inc.Actions {
		if inc.Actions[i].Target == "alice@corp.example" {
			failed = &inc.Actions[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, ActionFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)

	// Failure of one action does not block the others.
	assert.Equal(t, 1, notifier.sentTo("soc@example.com"))
	assert.Equal(t, 1, notifier.sentTo("bob@corp.example"))
}

func TestRespondFailedActionNotRetriedOnRerun(t *testing.T) {
	notifier := newFakeNotifier()
	notifier.failures["soc@example.com"] = 99
	incidents := newMemIncidents()
	o := newTestOrchestrator(t, incidents, newMemBlacklist(), notifier, testResponderConfig())

	rec := quarantinedRecord(1, TierMedium)
	first, err := o.Respond(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, first.Actions, 1)
	assert.Equal(t, ActionFailed, first.Actions[0].Status)

	// The action log already holds the outcome; a rerun does not re-fire.
	second, err := o.Respond(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, second.Actions, 1)
	assert.Equal(t, 3, second.Actions[0].Attempts)
}
