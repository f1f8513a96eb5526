package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryPolicy bounds the retries of one response action.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Multiplier  float64
}

// ResponderConfig controls which quarantines become incidents and how their
// actions are delivered.
type ResponderConfig struct {
	// IncidentTier is the lowest risk tier that opens an incident.
	IncidentTier RiskTier
	// SOCAddress receives the analyst notification.
	SOCAddress string
	Retry      RetryPolicy
}

// Validate rejects a responder configuration at startup.
func (c ResponderConfig) Validate() error {
	if !ValidTier(c.IncidentTier) {
		return fmt.Errorf("%w: unknown incident tier %q", ErrInvalidConfiguration, c.IncidentTier)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry max attempts must be at least 1", ErrInvalidConfiguration)
	}
	if c.Retry.Backoff < 0 || c.Retry.Multiplier < 1 {
		return fmt.Errorf("%w: retry backoff must be non-negative with multiplier >= 1", ErrInvalidConfiguration)
	}
	return nil
}

// ResponseOrchestrator turns quarantine decisions into automated response:
// blacklisting, notifications and an incident record of what was done.
// Action recording is deduplicated so retries never double-fire.
type ResponseOrchestrator struct {
	incidents IncidentRepository
	blacklist BlacklistRepository
	notifier  Notifier
	cfg       ResponderConfig
	logger    *zap.Logger
}

// NewResponseOrchestrator creates a new orchestrator.
func NewResponseOrchestrator(
	incidents IncidentRepository,
	blacklist BlacklistRepository,
	notifier Notifier,
	cfg ResponderConfig,
	logger *zap.Logger,
) (*ResponseOrchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ResponseOrchestrator{
		incidents: incidents,
		blacklist: blacklist,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

type plannedAction struct {
	typ    ActionType
	target string
	run    func(ctx context.Context) error
}

// Respond opens (or resumes) the incident for a quarantined record and
// executes the action set its risk tier calls for. Below the incident tier
// it returns (nil, nil). Safe to call more than once per record: the
// incident is unique per quarantine id and every action is recorded at most
// once.
func (o *ResponseOrchestrator) Respond(ctx context.Context, rec *QuarantineRecord) (*IncidentRecord, error) {
	if !rec.Result.RiskTier.AtLeast(o.cfg.IncidentTier) {
		return nil, nil
	}

	inc, created, err := o.incidents.Create(ctx, &IncidentRecord{
		ID:           uuid.NewString(),
		QuarantineID: rec.ID,
		RiskTier:     rec.Result.RiskTier,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	if !created {
		o.logger.Debug("Resuming existing incident",
			zap.String("incident_id", inc.ID),
			zap.Int64("quarantine_id", rec.ID))
	}

	for _, action := range o.planActions(inc, rec) {
		if err := o.executeAction(ctx, inc, action); err != nil {
			return nil, err
		}
	}

	return o.incidents.FindByID(ctx, inc.ID)
}

// planActions derives the action set deterministically from the risk tier.
// HIGH adds sender blacklisting and recipient notification on top of the
// MEDIUM analyst notification.
func (o *ResponseOrchestrator) planActions(inc *IncidentRecord, rec *QuarantineRecord) []plannedAction {
	actions := []plannedAction{
		{
			typ:    ActionNotifySOC,
			target: o.cfg.SOCAddress,
			run: func(ctx context.Context) error {
				subject := fmt.Sprintf("[PhishGuard] %s risk message quarantined", rec.Result.RiskTier)
				body := fmt.Sprintf(
					"Message from %s to %v was quarantined (combined score %.2f, rules: %v).\nQuarantine record: %d",
					rec.Message.Sender, rec.Message.Recipients, rec.Result.CombinedScore,
					rec.Result.TriggeredRules, rec.ID)
				return o.notifier.Send(ctx, o.cfg.SOCAddress, subject, body)
			},
		},
	}

	if !rec.Result.RiskTier.AtLeast(TierHigh) {
		return actions
	}

	if domain := SenderDomain(rec.Message.Sender); domain != "" {
		actions = append(actions, plannedAction{
			typ:    ActionBlacklistDomain,
			target: domain,
			run: func(ctx context.Context) error {
				now := time.Now().UTC()
				_, err := o.blacklist.Upsert(ctx, &BlacklistEntry{
					Value:            domain,
					Reason:           fmt.Sprintf("sender of quarantined message %s", rec.MessageID),
					AddedAt:          now,
					LastSeen:         now,
					SourceIncidentID: inc.ID,
				})
				return err
			},
		})
	}

	for _, recipient := range rec.Message.Recipients {
		recipient := recipient
		actions = append(actions, plannedAction{
			typ:    ActionNotifyRecipient,
			target: recipient,
			run: func(ctx context.Context) error {
				subject := "[PhishGuard] A message addressed to you was quarantined"
				body := fmt.Sprintf(
					"A message from %s with subject %q was identified as a likely phishing attempt and quarantined. Do not interact with similar messages.",
					rec.Message.Sender, rec.Message.Subject)
				return o.notifier.Send(ctx, recipient, subject, body)
			},
		})
	}

	return actions
}

// executeAction runs one action under the retry policy and records its
// outcome exactly once. A failed action is logged as such in the incident
// and does not block the remaining actions.
func (o *ResponseOrchestrator) executeAction(ctx context.Context, inc *IncidentRecord, action plannedAction) error {
	done, err := o.incidents.ActionRecorded(ctx, inc.ID, action.typ, action.target)
	if err != nil {
		return fmt.Errorf("failed to check action log: %w", err)
	}
	if done {
		o.logger.Debug("Action already recorded, skipping",
			zap.String("incident_id", inc.ID),
			zap.String("action", string(action.typ)),
			zap.String("target", action.target))
		return nil
	}

	attempts, runErr := o.runWithRetry(ctx, action)

	status := ActionCompleted
	if runErr != nil {
		status = ActionFailed
		o.logger.Error("Response action failed after retries",
			zap.String("incident_id", inc.ID),
			zap.String("action", string(action.typ)),
			zap.String("target", action.target),
			zap.Int("attempts", attempts),
			zap.Error(runErr))
	}

	if _, err := o.incidents.RecordAction(ctx, inc.ID, ResponseAction{
		Type:       action.typ,
		Target:     action.target,
		Status:     status,
		Attempts:   attempts,
		ExecutedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

func (o *ResponseOrchestrator) runWithRetry(ctx context.Context, action plannedAction) (int, error) {
	backoff := o.cfg.Retry.Backoff
	var lastErr error
	for attempt := 1; attempt <= o.cfg.Retry.MaxAttempts; attempt++ {
		lastErr = action.run(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == o.cfg.Retry.MaxAttempts {
			break
		}
		o.logger.Warn("Response action attempt failed, backing off",
			zap.String("action", string(action.typ)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * o.cfg.Retry.Multiplier)
	}
	return o.cfg.Retry.MaxAttempts, fmt.Errorf("%w: %v", ErrActionFailed, lastErr)
}
