package authadapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/aelexs/authcore/internal/authreducer"
)

// sesPublisher is a narrow, consumer-defined interface for the subset of SES
// operations required by the email sender. The real *ses.Client satisfies it.
type sesPublisher interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Compile-time interface satisfaction checks against the reducer's capability port.
var _ authreducer.EmailSender = (*SESEmailSender)(nil)
var _ authreducer.EmailSender = (*LogEmailSender)(nil)

// SESEmailSender delivers magic-link emails via Amazon SES. It owns delivery
// only; rendering the link into a full HTML template is out of scope here
// and is the caller's (or a templating layer's) responsibility — the
// reducer hands this adapter a ready-to-send URL, not a template name.
type SESEmailSender struct {
	client    sesPublisher
	fromEmail string
}

// NewSESEmailSender creates an SESEmailSender backed by the given SES client,
// sending from fromEmail.
func NewSESEmailSender(client sesPublisher, fromEmail string) *SESEmailSender {
	return &SESEmailSender{client: client, fromEmail: fromEmail}
}

// SendMagicLink sends an email containing verifyURL to recipient.
func (s *SESEmailSender) SendMagicLink(ctx context.Context, recipient, verifyURL string) error {
	subject := "Sign in to your account"
	body := fmt.Sprintf("Click the link below to sign in. This link expires shortly and can only be used once.\n\n%s", verifyURL)

	_, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{recipient}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body:    &types.Body{Text: &types.Content{Data: aws.String(body)}},
		},
		Source: aws.String(s.fromEmail),
	})
	if err != nil {
		return fmt.Errorf("ses email: send magic link to %s: %w", recipient, err)
	}

	return nil
}

// LogEmailSender is a fake EmailSender that logs the magic-link URL instead
// of sending real email. Suitable for local development and testing.
type LogEmailSender struct {
	logger *slog.Logger
}

// NewLogEmailSender creates a LogEmailSender that writes delivery events to
// the given structured logger.
func NewLogEmailSender(logger *slog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

// SendMagicLink logs the delivery with a masked recipient address. It never
// sends real email.
func (s *LogEmailSender) SendMagicLink(ctx context.Context, recipient, verifyURL string) error {
	s.logger.InfoContext(ctx, "magic link delivery (log-only)",
		slog.String("recipient", maskEmail(recipient)),
		slog.String("verify_url", verifyURL),
	)

	return nil
}

// maskEmail returns a masked representation of an email address, keeping
// only the first character of the local part.
func maskEmail(email string) string {
	at := -1
	for i, r := range email {
		if r == '@' {
			at = i
			break
		}
	}
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
