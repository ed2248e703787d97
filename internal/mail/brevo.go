package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const brevoAPIURL = "https://api.brevo.com/v3/smtp/email"

// Brevo sends transactional mail through the Brevo HTTP API.
type Brevo struct {
	apiKey     string
	fromEmail  string
	fromName   string
	endpoint   string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBrevo(apiKey, fromEmail, fromName string, log *zap.Logger) (*Brevo, error) {
	if apiKey == "" || fromEmail == "" {
		return nil, errors.New("brevo: api key and sender address are required")
	}
	return &Brevo{
		apiKey:     apiKey,
		fromEmail:  fromEmail,
		fromName:   fromName,
		endpoint:   brevoAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}, nil
}

type sendEmailReq struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HtmlContent string              `json:"htmlContent"`
}

// Send posts the mail, retrying server errors with exponential backoff.
// 4xx responses are not retried.
func (b *Brevo) Send(ctx context.Context, to, subject, html string) error {
	if to == "" || subject == "" || html == "" {
		return errors.New("brevo: recipient, subject and content are required")
	}

	body, err := json.Marshal(sendEmailReq{
		Sender:      map[string]string{"email": b.fromEmail, "name": b.fromName},
		To:          []map[string]string{{"email": to}},
		Subject:     subject,
		HtmlContent: html,
	})
	if err != nil {
		return fmt.Errorf("marshal brevo request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("api-key", b.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("brevo: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			var errorBody map[string]interface{}
			_ = json.NewDecoder(resp.Body).Decode(&errorBody)
			return backoff.Permanent(fmt.Errorf("brevo: status %d, body: %v", resp.StatusCode, errorBody))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		b.log.Warn("brevo send failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}
