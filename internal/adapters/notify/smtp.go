package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// SMTPNotifier delivers notifications as plain emails through an SMTP relay.
type SMTPNotifier struct {
	address  string
	from     string
	username string
	password string
	logger   *zap.Logger
}

// NewSMTPNotifier creates a new SMTP notifier
func NewSMTPNotifier(address, from, username, password string, logger *zap.Logger) (*SMTPNotifier, error) {
	if address == "" || from == "" {
		return nil, fmt.Errorf("%w: smtp notifier requires address and from", core.ErrInvalidConfiguration)
	}
	return &SMTPNotifier{
		address:  address,
		from:     from,
		username: username,
		password: password,
		logger:   logger,
	}, nil
}

// Send delivers one notification email to the recipient.
func (n *SMTPNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.from)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth sasl.Client
	if n.username != "" {
		auth = sasl.NewPlainClient("", n.username, n.password)
	}

	if err := smtp.SendMail(n.address, auth, n.from, []string{recipient}, strings.NewReader(msg.String())); err != nil {
		return fmt.Errorf("failed to send notification to %s: %w", recipient, err)
	}

	n.logger.Debug("Sent notification",
		zap.String("recipient", recipient),
		zap.String("subject", subject))
	return nil
}
