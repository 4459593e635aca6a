// Package messaging sends text messages to phone numbers.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"calshare/internal/apperr"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Gateway delivers one text message.
type Gateway interface {
	Send(ctx context.Context, phoneNumber, text string) error
}

// LogGateway only logs messages. Used for dry runs and when no SMS provider is configured.
type LogGateway struct {
	Logger *slog.Logger
}

func (g LogGateway) Send(ctx context.Context, phoneNumber, text string) error {
	g.Logger.Info("Text message not sent (log gateway).", "to", phoneNumber, "text", text)
	return nil
}

// Twilio sends SMS through the Twilio REST API.
type Twilio struct {
	client *twilio.RestClient
	from   string
	logger *slog.Logger
}

// NewTwilio creates a Twilio gateway sending from the given number.
func NewTwilio(logger *slog.Logger, accountSID, authToken, from string) (*Twilio, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("twilio gateway needs an account SID, auth token and sender number")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{client: client, from: from, logger: logger}, nil
}

// Send delivers text to phoneNumber. Twilio's client takes no context, so
// cancellation is only checked before the call.
func (t *Twilio) Send(ctx context.Context, phoneNumber, text string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Transport("messaging.Send", err)
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(E164(phoneNumber))
	params.SetFrom(t.from)
	params.SetBody(text)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return apperr.Transport("messaging.Send", fmt.Errorf("failed to send message: %w", err))
	}
	if resp.Sid != nil {
		t.logger.Debug("Text message queued", "sid", *resp.Sid, "to", phoneNumber)
	}
	return nil
}

// E164 prefixes a bare number with "+" and, for ten digit numbers, the
// North American country code.
func E164(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 10 {
		return "+1" + d
	}
	return "+" + d
}
