package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/maildrip/maildrip/internal/pkg/logger"
)

// SparkPostSender sends emails through the SparkPost transmissions API.
type SparkPostSender struct {
	apiKey    string
	baseURL   string
	fromName  string
	fromEmail string
	client    *http.Client
}

// NewSparkPostSender creates a SparkPost sender.
func NewSparkPostSender(apiKey, baseURL, fromName, fromEmail string, timeout time.Duration) *SparkPostSender {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SparkPostSender{
		apiKey:    apiKey,
		baseURL:   baseURL,
		fromName:  fromName,
		fromEmail: fromEmail,
		client:    &http.Client{Timeout: timeout},
	}
}

// Send delivers a single email via the transmissions endpoint. 4xx responses
// other than 429 are permanent; 429 and 5xx and transport errors are
// transient.
func (s *SparkPostSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	transmission := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": to}},
		},
		"content": map[string]interface{}{
			"from": map[string]string{
				"email": s.fromEmail,
				"name":  s.fromName,
			},
			"subject": subject,
			"html":    htmlBody,
			"text":    textBody,
		},
		"options": map[string]interface{}{
			"open_tracking":  false,
			"click_tracking": false,
		},
	}

	body, _ := json.Marshal(transmission)
	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sparkpost api: %w", err)
	}
	defer resp.Body.Close()

	var spResp struct {
		Results struct {
			TotalAcceptedRecipients int    `json:"total_accepted_recipients"`
			ID                      string `json:"id"`
		} `json:"results"`
		Errors []spError `json:"errors"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&spResp)

	switch {
	case resp.StatusCode == http.StatusOK && decodeErr != nil:
		// A 200 with a body we cannot read is not a confirmed accept.
		// Treat it as transient rather than claiming success.
		return fmt.Errorf("sparkpost response decode: %w", decodeErr)
	case resp.StatusCode == http.StatusOK && len(spResp.Errors) == 0:
		logger.Debug("sparkpost send accepted", "to", logger.RedactEmail(to), "message_id", spResp.Results.ID)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("sparkpost status %d: %s", resp.StatusCode, firstError(spResp.Errors))
	default:
		return Permanent(fmt.Errorf("sparkpost status %d: %s", resp.StatusCode, firstError(spResp.Errors)))
	}
}

type spError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func firstError(errs []spError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	return errs[0].Message
}
