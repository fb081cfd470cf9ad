// Package callback delivers a terminal submission to its callback_url.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandboxrun/engine/internal/types"
)

// Emitter POSTs the final submission state to CallbackURL once, on a
// best-effort basis: a bare net/http.Client with no retry queue.
type Emitter struct {
	client *http.Client
	logger *logrus.Logger
}

// New returns an Emitter whose requests time out after timeout.
func New(timeout time.Duration, logger *logrus.Logger) *Emitter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Emitter{client: &http.Client{Timeout: timeout}, logger: logger}
}

// Emit POSTs sub as JSON to sub.CallbackURL. Failures are logged, not
// returned, since by the time a submission is terminal there is no
// caller left waiting on this call to fail or succeed.
func (e *Emitter) Emit(ctx context.Context, sub *types.Submission) {
	body, err := json.Marshal(sub)
	if err != nil {
		e.logger.WithError(err).WithField("submission", sub.ID).Error("callback: failed to encode payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(body))
	if err != nil {
		e.logger.WithError(err).WithField("submission", sub.ID).Error("callback: failed to build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"submission": sub.ID,
			"url":        sub.CallbackURL,
		}).Warn("callback: delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.logger.WithFields(logrus.Fields{
			"submission": sub.ID,
			"url":        sub.CallbackURL,
			"status":     resp.StatusCode,
		}).Warn("callback: endpoint rejected delivery")
	}
}
