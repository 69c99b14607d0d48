package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/terra-clan/assessment-engine/internal/flow"
	"github.com/terra-clan/assessment-engine/internal/models"
)

// Client is a Go SDK for the assessment-engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new assessment-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.Code, e.Message)
}

// SubmitAnswerRequest is one questionnaire submission within a session.
// DefinitionID should be the ID of the NextQuestionnaire the subject was
// shown, so answers are scored against that version.
type SubmitAnswerRequest struct {
	SubjectID         string    `json:"subject_id"`
	QuestionnaireType string    `json:"questionnaire_type"`
	DefinitionID      string    `json:"definition_id,omitempty"`
	SelectedOptions   []int     `json:"selected_options"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	CompletedAt       time.Time `json:"completed_at,omitempty"`
}

// Profile is the demographic data used for education-adjusted scoring
type Profile struct {
	Education string `json:"education,omitempty"`
	Age       int    `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
}

// ListDefinitionsOptions filters definition listings
type ListDefinitionsOptions struct {
	Type   string
	Status string
	Limit  int
	Offset int
}

// --- Assessments ---

// StartAssessment opens an adaptive session for a subject
func (c *Client) StartAssessment(ctx context.Context, subjectID string) (*flow.StartResult, error) {
	var out flow.StartResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/assessments", map[string]string{"subject_id": subjectID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAnswer records a questionnaire within a session
func (c *Client) SubmitAnswer(ctx context.Context, sessionID string, req SubmitAnswerRequest) (*flow.SubmitResult, error) {
	var out flow.SubmitResult
	path := fmt.Sprintf("/api/v1/assessments/%s/answers", url.PathEscape(sessionID))
	if err := c.call(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAssessment returns the progress or outcome of a session
func (c *Client) GetAssessment(ctx context.Context, sessionID, subjectID string) (*flow.SessionResult, error) {
	var out flow.SessionResult
	path := fmt.Sprintf("/api/v1/assessments/%s?subject_id=%s", url.PathEscape(sessionID), url.QueryEscape(subjectID))
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AbandonAssessment ends a session without a conclusion
func (c *Client) AbandonAssessment(ctx context.Context, sessionID, subjectID string) (*models.AssessmentSession, error) {
	var out models.AssessmentSession
	path := fmt.Sprintf("/api/v1/assessments/%s/abandon", url.PathEscape(sessionID))
	if err := c.call(ctx, http.MethodPost, path, map[string]string{"subject_id": subjectID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Results ---

// ScoreStandalone scores one questionnaire outside any session
func (c *Client) ScoreStandalone(ctx context.Context, req flow.StandaloneRequest) (*models.ScaleResult, error) {
	var out models.ScaleResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/results", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListResults returns a subject's result history, newest first
func (c *Client) ListResults(ctx context.Context, subjectID string, limit, offset int) ([]*models.ScaleResult, error) {
	params := url.Values{}
	params.Set("subject_id", subjectID)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	var out struct {
		Results []*models.ScaleResult `json:"results"`
		Total   int                   `json:"total"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/results?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetResult retrieves one of a subject's results
func (c *Client) GetResult(ctx context.Context, id, subjectID string) (*models.ScaleResult, error) {
	var out models.ScaleResult
	path := fmt.Sprintf("/api/v1/results/%s?subject_id=%s", url.PathEscape(id), url.QueryEscape(subjectID))
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Definitions ---

// ListDefinitions lists questionnaire definitions
func (c *Client) ListDefinitions(ctx context.Context, opts ListDefinitionsOptions) ([]*models.QuestionnaireDefinition, error) {
	params := url.Values{}
	if opts.Type != "" {
		params.Set("type", opts.Type)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/api/v1/definitions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out struct {
		Definitions []*models.QuestionnaireDefinition `json:"definitions"`
		Total       int                               `json:"total"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Definitions, nil
}

// GetDefinition retrieves a definition by ID
func (c *Client) GetDefinition(ctx context.Context, id string) (*models.QuestionnaireDefinition, error) {
	var out models.QuestionnaireDefinition
	if err := c.call(ctx, http.MethodGet, "/api/v1/definitions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveDefinition creates or updates a definition. Set YAMLConfig or the
// structured fields; the server keeps them in sync.
func (c *Client) SaveDefinition(ctx context.Context, def *models.QuestionnaireDefinition) (*models.QuestionnaireDefinition, error) {
	var out models.QuestionnaireDefinition
	if err := c.call(ctx, http.MethodPut, "/api/v1/definitions", def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivateDefinition makes a definition available to subjects
func (c *Client) ActivateDefinition(ctx context.Context, id string) (*models.QuestionnaireDefinition, error) {
	return c.definitionAction(ctx, id, "activate", nil)
}

// DeactivateDefinition returns a definition to draft
func (c *Client) DeactivateDefinition(ctx context.Context, id string) (*models.QuestionnaireDefinition, error) {
	return c.definitionAction(ctx, id, "deactivate", nil)
}

// DuplicateDefinition copies a definition into a new draft
func (c *Client) DuplicateDefinition(ctx context.Context, id, code, version string) (*models.QuestionnaireDefinition, error) {
	return c.definitionAction(ctx, id, "duplicate", map[string]string{"code": code, "version": version})
}

func (c *Client) definitionAction(ctx context.Context, id, action string, body interface{}) (*models.QuestionnaireDefinition, error) {
	var out models.QuestionnaireDefinition
	path := fmt.Sprintf("/api/v1/definitions/%s/%s", url.PathEscape(id), action)
	if err := c.call(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Subjects ---

// UpsertProfile stores a subject's demographics
func (c *Client) UpsertProfile(ctx context.Context, subjectID string, p Profile) (*models.SubjectProfile, error) {
	var out models.SubjectProfile
	path := fmt.Sprintf("/api/v1/subjects/%s/profile", url.PathEscape(subjectID))
	if err := c.call(ctx, http.MethodPut, path, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks if the API is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// envelope is the server's standard response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call sends body as JSON and decodes the envelope's data into out
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	status, resp, err := c.doRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp, &env); err != nil {
		if status >= 400 {
			return &APIError{StatusCode: status, Code: "http_error", Message: string(resp)}
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !env.Success || status >= 400 {
		apiErr := &APIError{StatusCode: status, Code: "unknown_error"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
