package authadapter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sesPublisherStub is a configurable stub for the sesPublisher interface.
type sesPublisherStub struct {
	err error
}

func (s *sesPublisherStub) SendEmail(_ context.Context, _ *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ses.SendEmailOutput{}, nil
}

func TestSESEmailSender_SendMagicLink_Success(t *testing.T) {
	stub := &sesPublisherStub{}
	sender := NewSESEmailSender(stub, "auth@example.com")

	err := sender.SendMagicLink(context.Background(), "user@example.com", "https://example.com/verify?token=abc")

	require.NoError(t, err)
}

func TestSESEmailSender_SendMagicLink_Error(t *testing.T) {
	sendErr := errors.New("ses throttled")
	stub := &sesPublisherStub{err: sendErr}
	sender := NewSESEmailSender(stub, "auth@example.com")

	err := sender.SendMagicLink(context.Background(), "user@example.com", "https://example.com/verify?token=abc")

	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)
	assert.Contains(t, err.Error(), "ses email: send magic link")
}

func TestLogEmailSender_SendMagicLink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sender := NewLogEmailSender(logger)

	err := sender.SendMagicLink(context.Background(), "user@example.com", "https://example.com/verify?token=abc")

	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "magic link delivery (log-only)")
	assert.Contains(t, output, "u***@example.com")
	assert.Contains(t, output, "https://example.com/verify?token=abc")
	assert.NotContains(t, output, "user@example.com")
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"standard email", "user@example.com", "u***@example.com"},
		{"single char local part", "a@example.com", "a***@example.com"},
		{"no at sign", "not-an-email", "***"},
		{"empty string", "", "***"},
		{"at sign first", "@example.com", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maskEmail(tt.email)
			assert.Equal(t, tt.want, got)
		})
	}
}
