package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers messages through SendGrid dynamic templates
type SendGridSender struct {
	client    sendGridClient
	from      *mail.Email
	templates map[string]string
}

// NewSendGridSender creates a SendGrid transport; templates maps template
// names to SendGrid dynamic template ids
func NewSendGridSender(apiKey, fromEmail, fromName string, templates map[string]string) *SendGridSender {
	return &SendGridSender{
		client:    sendgrid.NewSendClient(apiKey),
		from:      mail.NewEmail(fromName, fromEmail),
		templates: templates,
	}
}

// Send sends one message
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("to address is empty")
	}

	response, err := s.client.SendWithContext(ctx, s.build(msg))
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}
	return nil
}

func (s *SendGridSender) build(msg Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(s.from)

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))

	if id := s.templates[string(msg.Template)]; id != "" {
		m.SetTemplateID(id)
		for k, v := range msg.Data {
			p.SetDynamicTemplateData(k, v)
		}
		p.SetDynamicTemplateData("subject", msg.Subject)
		m.AddPersonalizations(p)
		return m
	}

	// no template configured: fall back to a plain text listing of the data
	m.Subject = msg.Subject
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", plainBody(msg)))
	return m
}

func plainBody(msg Message) string {
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(msg.Subject)
	b.WriteString("\n\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, msg.Data[k])
	}
	return b.String()
}
