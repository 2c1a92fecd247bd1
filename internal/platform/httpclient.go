package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPITimeout = 10 * time.Second

// APIClientConfig configures the HTTP client for the host platform's REST API.
type APIClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// APIClient talks to the host learning platform over HTTP. It implements
// EnrollmentAPI and JobRunner.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient constructs an APIClient.
func NewAPIClient(cfg APIClientConfig) (*APIClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("platform: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("platform: invalid base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	return &APIClient{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type enrollmentResponse struct {
	CourseKey string `json:"course_key"`
	Mode      string `json:"mode"`
	IsActive  bool   `json:"is_active"`
}

// Enroll creates (or reactivates) an enrollment on the platform.
func (c *APIClient) Enroll(ctx context.Context, userID uint, courseKey, mode string) (*Enrollment, error) {
	body := map[string]any{
		"user_id":    userID,
		"course_key": courseKey,
		"mode":       mode,
	}

	var resp enrollmentResponse
	if err := c.do(ctx, http.MethodPost, "/api/enrollments", body, &resp); err != nil {
		return nil, err
	}

	return &Enrollment{CourseKey: resp.CourseKey, Mode: resp.Mode, IsActive: resp.IsActive}, nil
}

// AvailableModes lists the enrollment modes the course offers.
func (c *APIClient) AvailableModes(ctx context.Context, courseKey string) ([]string, error) {
	var resp struct {
		Modes []string `json:"modes"`
	}
	path := "/api/courses/" + url.PathEscape(courseKey) + "/modes"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Modes, nil
}

// IsActivelyEnrolled reports whether the user currently holds an active
// platform enrollment in the course.
func (c *APIClient) IsActivelyEnrolled(ctx context.Context, userID uint, courseKey string) (bool, error) {
	var resp enrollmentResponse
	path := fmt.Sprintf("/api/enrollments/%d/%s", userID, url.PathEscape(courseKey))
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return resp.IsActive, nil
}

// Submit queues an async task on the platform's job runner.
func (c *APIClient) Submit(ctx context.Context, taskName string, payload any) (string, error) {
	body := map[string]any{
		"task":    taskName,
		"payload": payload,
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs", body, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", errors.New("platform: job submission returned no id")
	}
	return resp.JobID, nil
}

// Poll fetches the state of a previously submitted job.
func (c *APIClient) Poll(ctx context.Context, jobID string) (*JobResult, error) {
	var resp struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
		Err    string          `json:"error"`
	}
	path := "/api/jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	result := &JobResult{Status: JobStatus(resp.Status), Err: resp.Err}
	if len(resp.Result) > 0 {
		var decoded any
		if err := json.Unmarshal(resp.Result, &decoded); err == nil {
			result.Result = decoded
		}
	}
	return result, nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("platform: unexpected status %d", e.status)
	}
	return fmt.Sprintf("platform: unexpected status %d: %s", e.status, e.body)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("platform: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform: decode response: %w", err)
	}
	return nil
}
