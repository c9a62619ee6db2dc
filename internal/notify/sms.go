package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
)

// SMS texts the alert phone through Twilio when a booking fails. Successes go by email only.
type SMS struct {
	to      string
	Enabled bool

	send func(body string) (sid string, err error)
}

// NewSMS is disabled unless every Twilio setting and the alert phone are set.
func NewSMS(accountSID, authToken, from, to string) *SMS {
	s := &SMS{
		to:      to,
		Enabled: accountSID != "" && authToken != "" && from != "" && to != "",
	}
	if s.Enabled {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		})
		s.send = func(body string) (string, error) {
			params := &openapi.CreateMessageParams{}
			params.SetTo(to)
			params.SetFrom(from)
			params.SetBody(body)
			msg, err := client.Api.CreateMessage(params)
			if err != nil {
				return "", err
			}
			if msg.Sid == nil {
				return "", nil
			}
			return *msg.Sid, nil
		}
	}
	return s
}

// SMSText is the short failure text; details go out by email.
func SMSText(req bookings.BookingRequest) string {
	at := req.RequestedTime
	if t, err := time.Parse("15:04", req.RequestedTime); err == nil {
		at = t.Format("03:04 PM")
	}
	return fmt.Sprintf("Tee time booking failed for %s at %s. Check email for details.",
		req.RequestedDate.Format(clock.DateLayout), at)
}

func (s *SMS) Notify(ctx context.Context, req bookings.BookingRequest, success bool, errMsg string) error {
	if !s.Enabled || success {
		return nil
	}
	// The Twilio client takes no context; skip sends that are already too late.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sms %s: %w", s.to, err)
	}
	if _, err := s.send(SMSText(req)); err != nil {
		return fmt.Errorf("sms %s: %w", s.to, err)
	}
	return nil
}
