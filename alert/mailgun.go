package alert

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunNotifier delivers alert emails through Mailgun's transactional API.
type MailgunNotifier struct {
	mg mailgun.Mailgun
}

// NewMailgunNotifier creates a notifier for the given sending domain.
func NewMailgunNotifier(domain, apiKey string) *MailgunNotifier {
	return &MailgunNotifier{mg: mailgun.NewMailgun(domain, apiKey)}
}

// Send delivers one email. The context bounds the API call.
func (n *MailgunNotifier) Send(ctx context.Context, to, from, subject, html string) error {
	msg := n.mg.NewMessage(from, subject, "", to)
	msg.SetHtml(html)
	if _, _, err := n.mg.Send(ctx, msg); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}
