package mailsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// mailhogAddress is one parsed address in the MailHog API shape.
type mailhogAddress struct {
	Mailbox string `json:"Mailbox"`
	Domain  string `json:"Domain"`
}

// mailhogItem is one captured message in the MailHog API shape.
type mailhogItem struct {
	ID      string           `json:"ID"`
	From    mailhogAddress   `json:"From"`
	To      []mailhogAddress `json:"To"`
	Created time.Time        `json:"Created"`
	Content struct {
		Headers map[string][]string `json:"Headers"`
		Body    string              `json:"Body"`
	} `json:"Content"`
}

type mailhogResponse struct {
	Total int           `json:"total"`
	Count int           `json:"count"`
	Items []mailhogItem `json:"items"`
}

// MailHogSource fetches captured messages from a MailHog instance over its
// HTTP API. Messages already handed out are skipped on later fetches; the
// store's unique message identity backs this up across restarts.
type MailHogSource struct {
	baseURL string
	limit   int
	client  *http.Client
	logger  *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMailHogSource creates a new MailHog source
func NewMailHogSource(host string, port int, limit int, logger *zap.Logger) *MailHogSource {
	if limit <= 0 {
		limit = 50
	}
	return &MailHogSource{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		limit:   limit,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
}

// Fetch returns the not-yet-seen captured messages, oldest first.
func (s *MailHogSource) Fetch(ctx context.Context) ([]*core.Message, error) {
	url := fmt.Sprintf("%s/api/v2/messages?limit=%d", s.baseURL, s.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build MailHog request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query MailHog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected MailHog status: %s", resp.Status)
	}

	var payload mailhogResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode MailHog response: %w", err)
	}

	var out []*core.Message
	s.mu.Lock()
	defer s.mu.Unlock()
	// Items arrive newest first; walk backwards to hand them out in arrival
	// order.
	for i := len(payload.Items) - 1; i >= 0; i-- {
		item := payload.Items[i]
		if _, ok := s.seen[item.ID]; ok {
			continue
		}
		s.seen[item.ID] = struct{}{}
		out = append(out, itemToMessage(item))
	}

	if len(out) > 0 {
		s.logger.Info("Fetched messages from MailHog",
			zap.Int("new", len(out)),
			zap.Int("total", payload.Total))
	}
	return out, nil
}

func itemToMessage(item mailhogItem) *core.Message {
	received := item.Created
	if received.IsZero() {
		received = time.Now()
	}

	msg := &core.Message{
		ID:         item.ID,
		Sender:     formatAddress(item.From),
		Subject:    headerValue(item.Content.Headers, "Subject"),
		Body:       item.Content.Body,
		Headers:    item.Content.Headers,
		ReceivedAt: received,
	}
	for _, to := range item.To {
		if addr := formatAddress(to); addr != "" {
			msg.Recipients = append(msg.Recipients, addr)
		}
	}
	return msg
}

func formatAddress(addr mailhogAddress) string {
	if addr.Mailbox == "" && addr.Domain == "" {
		return ""
	}
	if addr.Domain == "" {
		return addr.Mailbox
	}
	return addr.Mailbox + "@" + addr.Domain
}

func headerValue(headers map[string][]string, name string) string {
	for key, values := range headers {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
