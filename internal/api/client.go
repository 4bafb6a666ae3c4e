// Package api is the request/response client for the simulation backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/safesim/simdash/internal/model"
)

const (
	// DefaultBaseURL is where the backend listens by default
	DefaultBaseURL = "http://localhost:5000"
	// DefaultTimeout bounds every request
	DefaultTimeout = 30 * time.Second

	statusSuccess = "success"
)

// Client talks to the simulation backend over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	validate   *validator.Validate
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying http client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new backend client
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// BaseURL returns the backend root the client talks to
func (c *Client) BaseURL() string { return c.baseURL }

// do sends one request and decodes the reply envelope. A reply whose status
// is not "success" becomes a RejectionError; transport and decoding
// failures become a NetworkError. The raw body is returned for callers that
// decode top-level fields themselves.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*envelope, []byte, error) {
	op := strings.TrimPrefix(path, "/api/")
	if i := strings.IndexAny(op, "?/"); i >= 0 {
		op = op[:i]
	}

	var body io.Reader
	if payload != nil {
		if err := c.validate.Struct(payload); err != nil {
			return nil, nil, fmt.Errorf("%s: invalid request: %w", op, err)
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, op)
}

func (c *Client) send(req *http.Request, op string) (*envelope, []byte, error) {
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "op", op, "request_id", requestID, "error", err)
		return nil, nil, &NetworkError{Op: op, Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("backend request",
		"op", op,
		"method", req.Method,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if env.Status != statusSuccess {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, nil, &RejectionError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return &env, respBody, nil
}

// doData runs a request whose result sits under "data"
func (c *Client) doData(ctx context.Context, method, path string, payload, out any) (*model.Snapshot, error) {
	env, _, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, &NetworkError{Op: path, Err: fmt.Errorf("unmarshal data: %w", err)}
		}
	}
	return env.State, nil
}

// doTop runs a request whose result fields sit at the top level
func (c *Client) doTop(ctx context.Context, method, path string, payload, out any) error {
	_, raw, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &NetworkError{Op: path, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}

// Initialize creates a new simulation
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	env, _, err := c.do(ctx, http.MethodPost, "/api/initialize", req)
	if err != nil {
		return nil, err
	}
	return &InitializeResult{Message: env.Message, State: env.State}, nil
}

// StartPI starts the next program increment
func (c *Client) StartPI(ctx context.Context) (*PIStartResult, error) {
	var res PIStartResult
	state, err := c.doData(ctx, http.MethodPost, "/api/start_pi", struct{}{}, &res)
	if err != nil {
		return nil, err
	}
	res.State = state
	return &res, nil
}

// StartSprint starts the next sprint of the current PI
func (c *Client) StartSprint(ctx context.Context) (*SprintStartResult, error) {
	var res SprintStartResult
	state, err := c.doData(ctx, http.MethodPost, "/api/start_sprint", struct{}{}, &res)
	if err != nil {
		return nil, err
	}
	res.State = state
	return &res, nil
}

// DailyStandup runs the next day's standup
func (c *Client) DailyStandup(ctx context.Context) (*StandupResult, error) {
	var res StandupResult
	state, err := c.doData(ctx, http.MethodPost, "/api/daily_standup", struct{}{}, &res)
	if err != nil {
		return nil, err
	}
	res.State = state
	return &res, nil
}

// EndSprint closes the current sprint
func (c *Client) EndSprint(ctx context.Context) (*SprintEndResult, error) {
	var res SprintEndResult
	state, err := c.doData(ctx, http.MethodPost, "/api/end_sprint", struct{}{}, &res)
	if err != nil {
		return nil, err
	}
	res.State = state
	return &res, nil
}

// EndPI closes the current PI
func (c *Client) EndPI(ctx context.Context) (*PIEndResult, error) {
	var res PIEndResult
	state, err := c.doData(ctx, http.MethodPost, "/api/end_pi", struct{}{}, &res)
	if err != nil {
		return nil, err
	}
	res.State = state
	return &res, nil
}

// SubmitChangeRequest submits a change request
func (c *Client) SubmitChangeRequest(ctx context.Context, req ChangeRequest) (*ChangeResult, error) {
	var res ChangeResult
	state, err := c.doData(ctx, http.MethodPost, "/api/change_request", req, &res)
	if err != nil {
		return nil, err
	}
	res.State = state
	return &res, nil
}

// SubmitTechnicalGuidance asks the developer agent about a topic
func (c *Client) SubmitTechnicalGuidance(ctx context.Context, req GuidanceRequest) (*GuidanceResult, error) {
	var res GuidanceResult
	state, err := c.doData(ctx, http.MethodPost, "/api/technical_guidance", req, &res)
	if err != nil {
		return nil, err
	}
	res.State = state
	return &res, nil
}

// AskAgent asks one agent a question
func (c *Client) AskAgent(ctx context.Context, req AskRequest) (*AgentAnswer, error) {
	var res AgentAnswer
	if err := c.doTop(ctx, http.MethodPost, "/api/ask_agent", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DemonstrateChainOfThought asks one agent for a stepwise answer
func (c *Client) DemonstrateChainOfThought(ctx context.Context, req AskRequest) (*ChainOfThoughtResult, error) {
	var res ChainOfThoughtResult
	if err := c.doTop(ctx, http.MethodPost, "/api/demonstrate_cot", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DemonstrateConfig asks every agent to explain a configuration
func (c *Client) DemonstrateConfig(ctx context.Context, req DemoRequest) (*ConfigDemoResult, error) {
	var res ConfigDemoResult
	if err := c.doTop(ctx, http.MethodPost, "/api/demonstrate_safe_config", req, &res); err != nil {
		return nil, err
	}
	if res.ConfigType == "" {
		res.ConfigType = req.ConfigType
	}
	return &res, nil
}

// FetchState returns the backend's current snapshot
func (c *Client) FetchState(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	if _, err := c.doData(ctx, http.MethodGet, "/api/state", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FetchCommunications returns the communication log, newest last. A limit
// of zero fetches everything.
func (c *Client) FetchCommunications(ctx context.Context, limit int) ([]model.Communication, error) {
	comms := []model.Communication{}
	if _, err := c.doData(ctx, http.MethodGet, withLimit("/api/communications", limit), nil, &comms); err != nil {
		return nil, err
	}
	return comms, nil
}

// FetchEvents returns the event log, newest last. A limit of zero fetches
// everything.
func (c *Client) FetchEvents(ctx context.Context, limit int) ([]model.Event, error) {
	events := []model.Event{}
	if _, err := c.doData(ctx, http.MethodGet, withLimit("/api/events", limit), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ConfigImageURL is where the backend serves the diagram for a
// configuration.
func (c *Client) ConfigImageURL(cfg model.Configuration) string {
	return c.baseURL + "/api/safe_config_image/" + url.PathEscape(string(cfg))
}

// UploadConfigImage replaces the diagram for a configuration and returns
// the path the backend stored it under.
func (c *Client) UploadConfigImage(ctx context.Context, cfg model.Configuration, filename string, image io.Reader) (string, error) {
	if err := c.validate.Var(string(cfg), "required,oneof=big_picture core_competencies essential large_solution portfolio full"); err != nil {
		return "", fmt.Errorf("upload_safe_config_image: invalid configuration %q: %w", cfg, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return "", fmt.Errorf("copy image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/upload_safe_config_image/"+url.PathEscape(string(cfg)), &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	_, raw, err := c.send(req, "upload_safe_config_image")
	if err != nil {
		return "", err
	}
	var res struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", &NetworkError{Op: "upload_safe_config_image", Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return res.Path, nil
}

func withLimit(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return path + "?limit=" + strconv.Itoa(limit)
}
