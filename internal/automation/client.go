// Package automation talks to the browser-automation sidecar that drives the club's tee sheet.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Mode string

const (
	// ModeTest walks the booking flow without confirming the reservation.
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTest:
		return ModeTest, nil
	case ModeLive:
		return ModeLive, nil
	}
	return "", fmt.Errorf("invalid booking mode %q (want test or live)", s)
}

// Result is what one booking attempt achieved. Success=false means the flow ran but no
// slot was secured.
type Result struct {
	Success    bool   `json:"success"`
	BookedTime string `json:"booked_time,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Booker performs one booking attempt. Implementations may be slow and flaky and must
// enforce their own timeout.
type Booker interface {
	Attempt(ctx context.Context, date time.Time, preferredTime string, mode Mode) (Result, error)
}

type Credentials struct {
	ClubURL  string
	Username string
	Password string
}

// Client calls the sidecar over HTTP.
type Client struct {
	hc      *http.Client
	baseURL string
	creds   Credentials
}

func New(baseURL string, creds Credentials, timeout time.Duration) *Client {
	return &Client{
		hc:      &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
	}
}

type attemptRequest struct {
	ClubURL       string `json:"club_url"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	TargetDate    string `json:"target_date"`
	PreferredTime string `json:"preferred_time"`
	Mode          Mode   `json:"mode"`
}

// ErrBadResponse marks a 2xx reply whose body is not a result. It is a sidecar or proxy
// glitch, never a verdict on the booking.
var ErrBadResponse = errors.New("automation response unreadable")

func (c *Client) Attempt(ctx context.Context, date time.Time, preferredTime string, mode Mode) (Result, error) {
	body, err := json.Marshal(attemptRequest{
		ClubURL:       c.creds.ClubURL,
		Username:      c.creds.Username,
		Password:      c.creds.Password,
		TargetDate:    date.Format("2006-01-02"),
		PreferredTime: preferredTime,
		Mode:          mode,
	})
	if err != nil {
		return Result{}, err
	}

	status, respBody, err := c.do(ctx, http.MethodPost, "/attempt", body)
	if err != nil {
		return Result{}, err
	}
	if status < 200 || status >= 300 {
		return Result{}, fmt.Errorf("automation attempt failed: %s", errorMessage(status, respBody))
	}

	var res Result
	if err := json.Unmarshal(respBody, &res); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return res, nil
}

// Ping checks the sidecar is up.
func (c *Client) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("automation ping failed: %s", errorMessage(status, body))
	}
	return nil
}

func errorMessage(status int, body []byte) string {
	var r struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &r)
	switch {
	case r.Message != "":
		return fmt.Sprintf("%s (status=%d)", r.Message, status)
	case r.Error != "":
		return fmt.Sprintf("%s (status=%d)", r.Error, status)
	}
	return fmt.Sprintf("status=%d", status)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("user-agent", "teesched/1.0")
	req.Header.Set("cache-control", "no-cache")
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

// DryRun pretends every attempt succeeds at the preferred time. It is used in test mode
// when no sidecar is configured.
type DryRun struct{}

func (DryRun) Attempt(ctx context.Context, date time.Time, preferredTime string, mode Mode) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Success: true, BookedTime: preferredTime, Message: "dry run"}, nil
}
