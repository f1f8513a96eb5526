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

	"github.com/phishguard/phishguard/internal/utils"
)

type fixedScorer struct {
	score float64
	err   error
	calls int
	mu    sync.Mutex
}

func (s *fixedScorer) Score(ctx context.Context, msg *Message, features *FeatureVector) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.score, nil
}

func (s *fixedScorer) Name() string { return "fixed" }

type memQuarantine struct {
	mu          sync.Mutex
	nextID      int64
	records     map[int64]*QuarantineRecord
	byMessageID map[string]int64
}

func newMemQuarantine() *memQuarantine {
	return &memQuarantine{
		records:     make(map[int64]*QuarantineRecord),
		byMessageID: make(map[string]int64),
	}
}

func (m *memQuarantine) Insert(ctx context.Context, rec *QuarantineRecord) (*QuarantineRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byMessageID[rec.MessageID]; ok {
		copied := *m.records[id]
		return &copied, false, nil
	}
	m.nextID++
	stored := *rec
	stored.ID = m.nextID
	stored.Status = StatusQuarantined
	m.records[stored.ID] = &stored
	m.byMessageID[stored.MessageID] = stored.ID
	copied := stored
	return &copied, true, nil
}

func (m *memQuarantine) FindByID(ctx context.Context, id int64) (*QuarantineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *memQuarantine) FindByMessageID(ctx context.Context, messageID string) (*QuarantineRecord, error) {
	m.mu.Lock()
	id, ok := m.byMessageID[messageID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindByID(ctx, id)
}

func (m *memQuarantine) List(ctx context.Context, status QuarantineStatus, limit int) ([]*QuarantineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*QuarantineRecord
	for _, rec := range m.records {
		if status != "" && rec.Status != status {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memQuarantine) Transition(ctx context.Context, id int64, expected, next QuarantineStatus, resolvedBy string) (*QuarantineRecord, error) {
	if err := CheckTransition(expected, next); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != expected {
		return nil, fmt.Errorf("%w: record %d is %s, not %s", ErrStaleState, id, rec.Status, expected)
	}
	now := time.Now().UTC()
	rec.Status = next
	rec.ResolvedDate = &now
	rec.ResolvedBy = resolvedBy
	copied := *rec
	return &copied, nil
}

func (m *memQuarantine) Stats(ctx context.Context) (*DashboardStats, error) {
	return &DashboardStats{}, nil
}

func (m *memQuarantine) RecentActivity(ctx context.Context, limit int) ([]*ActivityEntry, error) {
	return nil, nil
}

func (m *memQuarantine) Close() error { return nil }

type pipelineFixture struct {
	pipeline   *Pipeline
	quarantine *memQuarantine
	incidents  *memIncidents
	blacklist  *memBlacklist
	notifier   *fakeNotifier
	scorer     *fixedScorer
}

func newPipelineFixture(t *testing.T, scorer *fixedScorer) *pipelineFixture {
	t.Helper()
	logger := zap.NewNop()

	extractor := NewFeatureExtractor(nil, utils.NewTextProcessor(logger), logger)
	rules, err := NewRuleEngine(DefaultRules(), logger)
	require.NoError(t, err)
	combiner, err := NewScoreCombiner(testCombinerConfig())
	require.NoError(t, err)

	quarantine := newMemQuarantine()
	incidents := newMemIncidents()
	blacklist := newMemBlacklist()
	notifier := newFakeNotifier()

	responder, err := NewResponseOrchestrator(incidents, blacklist, notifier, testResponderConfig(), logger)
	require.NoError(t, err)

	pipeline, err := NewPipeline(extractor, rules, scorer, combiner, quarantine, responder, PipelineConfig{
		QuarantineThreshold: 0.5,
		MaxInFlight:         4,
	}, logger)
	require.NoError(t, err)

	return &pipelineFixture{
		pipeline:   pipeline,
		quarantine: quarantine,
		incidents:  incidents,
		blacklist:  blacklist,
		notifier:   notifier,
		scorer:     scorer,
	}
}

func benignMessage(id string) *Message {
	return &Message{
		ID:         id,
		Sender:     "newsletter@corp.example",
		Recipients: []string{"alice@corp.example"},
		Subject:    "Weekly digest",
		Body:       "Here is what happened this week.",
		ReceivedAt: time.Now(),
	}
}

func phishMessage(id string) *Message {
	return &Message{
		ID:         id,
		Sender:     "security@corp-login.xyz",
		Recipients: []string{"alice@corp.example"},
		Subject:    "URGENT: account suspended",
		Body:       "Act now and verify your password at http://a.xyz http://b.xyz http://c.xyz immediately",
		ReceivedAt: time.Now(),
	}
}

func TestPipelineConfigValidate(t *testing.T) {
	assert.ErrorIs(t, PipelineConfig{QuarantineThreshold: 0, MaxInFlight: 1}.Validate(), ErrInvalidConfiguration)
	assert.ErrorIs(t, PipelineConfig{QuarantineThreshold: 1, MaxInFlight: 1}.Validate(), ErrInvalidConfiguration)
	assert.ErrorIs(t, PipelineConfig{QuarantineThreshold: 0.5, MaxInFlight: 0}.Validate(), ErrInvalidConfiguration)
	assert.NoError(t, PipelineConfig{QuarantineThreshold: 0.5, MaxInFlight: 1}.Validate())
}

func TestProcessBelowThreshold(t *testing.T) {
	f := newPipelineFixture(t, &fixedScorer{score: 0.1})

	outcome, err := f.pipeline.Process(context.Background(), benignMessage("m1"))
	require.NoError(t, err)

	assert.False(t, outcome.Quarantined)
	assert.Nil(t, outcome.Record)
	assert.Nil(t, outcome.Incident)
	_, err = f.quarantine.FindByMessageID(context.Background(), "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessQuarantinesAndResponds(t *testing.T) {
	f := newPipelineFixture(t, &fixedScorer{score: 0.95})

	outcome, err := f.pipeline.Process(context.Background(), phishMessage("m1"))
	require.NoError(t, err)

	assert.True(t, outcome.Quarantined)
	assert.False(t, outcome.Duplicate)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, StatusQuarantined, outcome.Record.Status)
	assert.Equal(t, TierHigh, outcome.Result.RiskTier)

	require.NotNil(t, outcome.Incident)
	assert.NotEmpty(t, outcome.Incident.Actions)

	blocked, err := f.blacklist.Contains(context.Background(), "corp-login.xyz")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestProcessDuplicateMessage(t *testing.T) {
	f := newPipelineFixture(t, &fixedScorer{score: 0.95})

	first, err := f.pipeline.Process(context.Background(), phishMessage("m1"))
	require.NoError(t, err)
	second, err := f.pipeline.Process(context.Background(), phishMessage("m1"))
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	// Response actions stay deduplicated across the rerun.
	assert.Equal(t, first.Incident.ID, second.Incident.ID)
	assert.Len(t, second.Incident.Actions, len(first.Incident.Actions))
	assert.Equal(t, 1, f.notifier.sentTo("soc@example.com"))
}

func TestProcessDegradedScorer(t *testing.T) {
	f := newPipelineFixture(t, &fixedScorer{err: errors.New("model endpoint down")})

	outcome, err := f.pipeline.Process(context.Background(), phishMessage("m1"))
	require.NoError(t, err)

	// Neutral prior plus the rule signal still quarantines a rule-heavy
	// message.
	assert.True(t, outcome.Result.Degraded)
	assert.Equal(t, 0.5, outcome.Result.MLScore)
	assert.True(t, outcome.Quarantined)

	health := f.pipeline.Health()
	assert.True(t, health.ScorerDegraded)
	assert.Equal(t, "fixed", health.Scorer)
}

func TestScorerRecovery(t *testing.T) {
	scorer := &fixedScorer{err: errors.New("down")}
	f := newPipelineFixture(t, scorer)

	_, _ = f.pipeline.Process(context.Background(), benignMessage("m1"))
	assert.True(t, f.pipeline.Health().ScorerDegraded)

	scorer.mu.Lock()
	scorer.err = nil
	scorer.score = 0.2
	scorer.mu.Unlock()

	_, _ = f.pipeline.Process(context.Background(), benignMessage("m2"))
	assert.False(t, f.pipeline.Health().ScorerDegraded)
}

func TestProcessBatch(t *testing.T) {
	f := newPipelineFixture(t, &fixedScorer{score: 0.95})

	msgs := make([]*Message, 20)
	for i := range msgs {
		msgs[i] = phishMessage(fmt.Sprintf("m%d", i))
	}

	outcomes := f.pipeline.ProcessBatch(context.Background(), msgs)
	require.Len(t, outcomes, 20)
	for i, o := range outcomes {
		require.NotNil(t, o, "outcome %d", i)
		assert.True(t, o.Quarantined)
	}

	records, err := f.quarantine.List(context.Background(), StatusQuarantined, 0)
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestProcessBatchCancelled(t *testing.T) {
	f := newPipelineFixture(t, &fixedScorer{score: 0.95})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msgs := []*Message{phishMessage("m1"), phishMessage("m2")}
	outcomes := f.pipeline.ProcessBatch(ctx, msgs)
	assert.Len(t, outcomes, 2)
}
