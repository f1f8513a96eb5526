package factory

import (
	"fmt"

	"github.com/phishguard/phishguard/internal/adapters/notify"
	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// NotifierFactory creates notifiers based on configuration
type NotifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewNotifierFactory creates a new notifier factory
func NewNotifierFactory(cfg *config.Config, logger *zap.Logger) *NotifierFactory {
	return &NotifierFactory{cfg: cfg, logger: logger}
}

// CreateNotifier creates the configured notifier.
func (f *NotifierFactory) CreateNotifier() (core.Notifier, error) {
	responseCfg, err := f.cfg.GetResponse()
	if err != nil {
		return nil, err
	}

	switch responseCfg.Notifier {
	case "log":
		return notify.NewLogNotifier(f.logger), nil
	case "smtp":
		return notify.NewSMTPNotifier(
			responseCfg.SMTPAddress,
			responseCfg.SMTPFrom,
			responseCfg.SMTPUsername,
			responseCfg.SMTPPassword,
			f.logger,
		)
	default:
		return nil, fmt.Errorf("%w: unsupported notifier: %s", core.ErrInvalidConfiguration, responseCfg.Notifier)
	}
}
