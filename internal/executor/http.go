package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pathlane/usage-gate/internal/dispatch"
	"github.com/pathlane/usage-gate/internal/models"
)

// HTTPExecutor forwards a job's payload to a backend compute service and
// classifies the response: 2xx succeeds with the body as result, 4xx is a
// permanent payload problem, 5xx and network errors are transient.
type HTTPExecutor struct {
	backendURL string
	client     *http.Client
}

func NewHTTPExecutor(backendURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExecutor{
		backendURL: backendURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, job *models.Job) dispatch.Outcome {
	body, status, err := e.post(ctx, []byte(job.Payload), map[string]string{
		"X-Job-ID":    job.ID.String(),
		"X-Task-Type": string(job.TaskType),
		"X-User-ID":   job.UserID,
	})
	if err != nil {
		return dispatch.Transient(err)
	}

	switch {
	case status >= 200 && status < 300:
		return dispatch.Success(json.RawMessage(body))
	case status >= 400 && status < 500:
		return dispatch.Permanent(fmt.Errorf("backend rejected payload: %d: %s", status, truncate(body, 256)))
	default:
		return dispatch.Transient(fmt.Errorf("backend error: %d", status))
	}
}

// Compute runs the same backend call synchronously for urgent requests.
// Non-2xx responses are plain errors here; the caller has no retry machine.
func (e *HTTPExecutor) Compute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	body, status, err := e.post(ctx, payload, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("backend error: %d: %s", status, truncate(body, 256))
	}
	return json.RawMessage(body), nil
}

func (e *HTTPExecutor) post(ctx context.Context, payload []byte, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.backendURL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	return body, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
