// Package client is the HTTP client for the dispatcher REST API,
// used by the CLI commands.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shevd/shev/pkg/types"
)

// Client wraps the dispatcher REST API for easy CLI usage
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client against the given base URL
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// apiError is the {"error": ...} body every non-2xx response carries
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
			return fmt.Errorf("%s", ae.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Status is the job count summary from GET /status
type Status struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	CancelledJobs int `json:"cancelled_jobs"`
}

// GetStatus returns the job count summary
func (c *Client) GetStatus() (*Status, error) {
	var s Status
	if err := c.do(http.MethodGet, "/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Health is the health report from GET /health
type Health struct {
	Healthy  bool            `json:"healthy"`
	Warnings []types.Warning `json:"warnings"`
}

// GetHealth returns the health report
func (c *Client) GetHealth() (*Health, error) {
	var h Health
	if err := c.do(http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateHandlerRequest is the POST /handlers body
type CreateHandlerRequest struct {
	EventType string            `json:"event_type"`
	Shell     string            `json:"shell"`
	Command   string            `json:"command"`
	Timeout   *int              `json:"timeout,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// CreateHandler registers a handler for an event type
func (c *Client) CreateHandler(req CreateHandlerRequest) (*types.Handler, error) {
	var h types.Handler
	if err := c.do(http.MethodPost, "/handlers", req, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// UpdateHandlerRequest is the PUT /handlers/{event_type} body
type UpdateHandlerRequest struct {
	Shell   *string           `json:"shell,omitempty"`
	Command *string           `json:"command,omitempty"`
	Timeout *int              `json:"timeout,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// UpdateHandler changes a handler's fields
func (c *Client) UpdateHandler(eventType string, req UpdateHandlerRequest) (*types.Handler, error) {
	var h types.Handler
	if err := c.do(http.MethodPut, "/handlers/"+eventType, req, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetHandler fetches a handler by event type
func (c *Client) GetHandler(eventType string) (*types.Handler, error) {
	var h types.Handler
	if err := c.do(http.MethodGet, "/handlers/"+eventType, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHandlers lists all handlers
func (c *Client) ListHandlers() ([]*types.Handler, error) {
	var hs []*types.Handler
	if err := c.do(http.MethodGet, "/handlers", nil, &hs); err != nil {
		return nil, err
	}
	return hs, nil
}

// DeleteHandler removes a handler
func (c *Client) DeleteHandler(eventType string) error {
	return c.do(http.MethodDelete, "/handlers/"+eventType, nil, nil)
}

// CreateTimerRequest is the POST /timers body
type CreateTimerRequest struct {
	EventType    string `json:"event_type"`
	Context      string `json:"context"`
	IntervalSecs int    `json:"interval_secs"`
}

// CreateTimer registers a recurring timer for an event type
func (c *Client) CreateTimer(req CreateTimerRequest) (*types.TimerRecord, error) {
	var t types.TimerRecord
	if err := c.do(http.MethodPost, "/timers", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTimerRequest is the PUT /timers/{event_type} body
type UpdateTimerRequest struct {
	Context      *string `json:"context,omitempty"`
	IntervalSecs *int    `json:"interval_secs,omitempty"`
}

// UpdateTimer changes a timer's interval or context
func (c *Client) UpdateTimer(eventType string, req UpdateTimerRequest) (*types.TimerRecord, error) {
	var t types.TimerRecord
	if err := c.do(http.MethodPut, "/timers/"+eventType, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTimer fetches a timer by event type
func (c *Client) GetTimer(eventType string) (*types.TimerRecord, error) {
	var t types.TimerRecord
	if err := c.do(http.MethodGet, "/timers/"+eventType, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTimers lists all timers
func (c *Client) ListTimers() ([]*types.TimerRecord, error) {
	var ts []*types.TimerRecord
	if err := c.do(http.MethodGet, "/timers", nil, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// DeleteTimer removes a timer
func (c *Client) DeleteTimer(eventType string) error {
	return c.do(http.MethodDelete, "/timers/"+eventType, nil, nil)
}

// CreateScheduleRequest is the POST /schedules body
type CreateScheduleRequest struct {
	EventType     string `json:"event_type"`
	Context       string `json:"context"`
	ScheduledTime string `json:"scheduled_time"`
	Periodic      bool   `json:"periodic"`
}

// CreateSchedule registers a wall-clock schedule for an event type
func (c *Client) CreateSchedule(req CreateScheduleRequest) (*types.ScheduleRecord, error) {
	var s types.ScheduleRecord
	if err := c.do(http.MethodPost, "/schedules", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateScheduleRequest is the PUT /schedules/{event_type} body
type UpdateScheduleRequest struct {
	Context       *string `json:"context,omitempty"`
	ScheduledTime *string `json:"scheduled_time,omitempty"`
	Periodic      *bool   `json:"periodic,omitempty"`
}

// UpdateSchedule changes a schedule's fields
func (c *Client) UpdateSchedule(eventType string, req UpdateScheduleRequest) (*types.ScheduleRecord, error) {
	var s types.ScheduleRecord
	if err := c.do(http.MethodPut, "/schedules/"+eventType, req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSchedule fetches a schedule by event type
func (c *Client) GetSchedule(eventType string) (*types.ScheduleRecord, error) {
	var s types.ScheduleRecord
	if err := c.do(http.MethodGet, "/schedules/"+eventType, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSchedules lists all schedules
func (c *Client) ListSchedules() ([]*types.ScheduleRecord, error) {
	var ss []*types.ScheduleRecord
	if err := c.do(http.MethodGet, "/schedules", nil, &ss); err != nil {
		return nil, err
	}
	return ss, nil
}

// DeleteSchedule removes a schedule
func (c *Client) DeleteSchedule(eventType string) error {
	return c.do(http.MethodDelete, "/schedules/"+eventType, nil, nil)
}

// ListJobs lists jobs, newest first, optionally filtered by status
func (c *Client) ListJobs(status string) ([]*types.Job, error) {
	path := "/jobs"
	if status != "" {
		path += "?status=" + status
	}
	var jobs []*types.Job
	if err := c.do(http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches a job by id
func (c *Client) GetJob(id string) (*types.Job, error) {
	var j types.Job
	if err := c.do(http.MethodGet, "/jobs/"+id, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// CancelJob cancels a pending or running job
func (c *Client) CancelJob(id string) (*types.Job, error) {
	var j types.Job
	if err := c.do(http.MethodPost, "/jobs/"+id+"/cancel", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// EventResponse is the POST /events reply
type EventResponse struct {
	Event   *types.Event `json:"event"`
	Message string       `json:"message"`
}

// SendEvent enqueues a one-off event
func (c *Client) SendEvent(eventType, context string) (*EventResponse, error) {
	body := map[string]string{"event_type": eventType, "context": context}
	var er EventResponse
	if err := c.do(http.MethodPost, "/events", body, &er); err != nil {
		return nil, err
	}
	return &er, nil
}

// Config holds the runtime settings from GET /config
type Config struct {
	Port      string `json:"port"`
	QueueSize string `json:"queue_size"`
}

// GetConfig returns the runtime settings
func (c *Client) GetConfig() (*Config, error) {
	var cfg Config
	if err := c.do(http.MethodGet, "/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetConfig updates runtime settings. Nil fields are left unchanged.
func (c *Client) SetConfig(port, queueSize *string) (*Config, error) {
	body := map[string]*string{}
	if port != nil {
		body["port"] = port
	}
	if queueSize != nil {
		body["queue_size"] = queueSize
	}
	var cfg Config
	if err := c.do(http.MethodPut, "/config", body, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReloadResult reports the catalog counts after POST /reload
type ReloadResult struct {
	Success         bool `json:"success"`
	HandlersLoaded  int  `json:"handlers_loaded"`
	TimersLoaded    int  `json:"timers_loaded"`
	SchedulesLoaded int  `json:"schedules_loaded"`
}

// Reload re-reads the catalog and re-registers all producers
func (c *Client) Reload() (*ReloadResult, error) {
	var rl ReloadResult
	if err := c.do(http.MethodPost, "/reload", nil, &rl); err != nil {
		return nil, err
	}
	return &rl, nil
}
