package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/mailersend/mailersend-go"

	"github.com/example/teetime-scheduler/internal/bookings"
)

// Email sends outcomes to the alert address through MailerSend.
type Email struct {
	to      string
	Enabled bool

	send func(ctx context.Context, subject, text, html string) error
}

// NewEmail is disabled unless apiKey, from and to are all set.
func NewEmail(apiKey, from, to string) *Email {
	e := &Email{
		to:      to,
		Enabled: apiKey != "" && from != "" && to != "",
	}
	if e.Enabled {
		client := mailersend.NewMailersend(apiKey)
		sender := mailersend.From{Name: "Tee Time Scheduler", Email: from}
		e.send = func(ctx context.Context, subject, text, htmlBody string) error {
			msg := client.Email.NewMessage()
			msg.SetFrom(sender)
			msg.SetRecipients([]mailersend.Recipient{{Email: to}})
			msg.SetSubject(subject)
			msg.SetText(text)
			msg.SetHTML(htmlBody)

			res, err := client.Email.Send(ctx, msg)
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.StatusCode < 200 || res.StatusCode >= 300 {
				body, _ := io.ReadAll(res.Body)
				return fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil
		}
	}
	return e
}

func (e *Email) Notify(ctx context.Context, req bookings.BookingRequest, success bool, errMsg string) error {
	if !e.Enabled {
		return nil
	}
	subject, body := Message(req, success, errMsg)
	htmlBody := "<p>" + strings.ReplaceAll(html.EscapeString(body), "\n", "<br>") + "</p>"
	if err := e.send(ctx, subject, body, htmlBody); err != nil {
		return fmt.Errorf("email %s: %w", e.to, err)
	}
	return nil
}
