package factory

import (
	"fmt"

	"github.com/phishguard/phishguard/internal/adapters/mailsource"
	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// MailSourceFactory creates mail sources based on configuration
type MailSourceFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailSourceFactory creates a new mail source factory
func NewMailSourceFactory(cfg *config.Config, logger *zap.Logger) *MailSourceFactory {
	return &MailSourceFactory{cfg: cfg, logger: logger}
}

// CreateMailSource creates the configured mail source.
func (f *MailSourceFactory) CreateMailSource() (core.MailSource, error) {
	mailCfg, err := f.cfg.GetMail()
	if err != nil {
		return nil, err
	}

	switch mailCfg.Mode {
	case "mailhog":
		return mailsource.NewMailHogSource(
			mailCfg.MailHogHost,
			mailCfg.MailHogPort,
			mailCfg.MailHogLimit,
			f.logger,
		), nil
	default:
		return nil, fmt.Errorf("%w: unsupported mail source mode: %s", core.ErrInvalidConfiguration, mailCfg.Mode)
	}
}
