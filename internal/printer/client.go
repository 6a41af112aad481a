// Package printer sends exam credential print jobs to the local print service.
package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"examkiosk/internal/models"
)

// ErrStatus is returned when the print service answers with a non-2xx status.
var ErrStatus = errors.New("print service rejected job")

// Client posts print jobs as JSON to a fixed endpoint.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewClient returns a print client for url.
func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Print submits job once. A failure is final for this attempt.
func (c *Client) Print(ctx context.Context, job models.PrintJob) error {
	jobID := uuid.NewString()

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode print job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build print request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", jobID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("print request failed",
			zap.String("job_id", jobID), zap.String("card_id", job.CardID), zap.Error(err))
		return fmt.Errorf("send print job: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("print service returned error",
			zap.String("job_id", jobID), zap.String("card_id", job.CardID), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrStatus, resp.StatusCode)
	}

	c.logger.Info("print job accepted", zap.String("job_id", jobID), zap.String("card_id", job.CardID))
	return nil
}
