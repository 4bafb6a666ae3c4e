// Package backendtest runs an in-process stand-in for the simulation backend:
// the JSON endpoints plus the Socket.IO push endpoint. It keeps just enough
// state to walk a simulation through its lifecycle.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/safesim/simdash/internal/model"
	"github.com/safesim/simdash/internal/push"
)

// Request is one recorded HTTP request
type Request struct {
	Method      string
	Path        string
	Query       string
	RequestID   string
	ContentType string
	Body        []byte
}

// Server is a fake backend
type Server struct {
	URL string

	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	state     model.Snapshot
	comms     []model.Communication
	events    []model.Event
	requests  []Request
	overrides map[string]http.HandlerFunc
	conns     map[*websocket.Conn]*sync.Mutex
	pongs     int
	joined    chan struct{}
}

// New starts a fake backend that is closed when the test ends
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		overrides: make(map[string]http.HandlerFunc),
		conns:     make(map[*websocket.Conn]*sync.Mutex),
		joined:    make(chan struct{}, 16),
	}
	s.srv = httptest.NewServer(s.router())
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

// Close shuts the server and every push connection down
func (s *Server) Close() {
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = map[*websocket.Conn]*sync.Mutex{}
	s.mu.Unlock()
	s.srv.Close()
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/api/initialize", s.handleInitialize)
	r.Post("/api/start_pi", s.handleStartPI)
	r.Post("/api/start_sprint", s.handleStartSprint)
	r.Post("/api/daily_standup", s.handleStandup)
	r.Post("/api/end_sprint", s.handleEndSprint)
	r.Post("/api/end_pi", s.handleEndPI)
	r.Post("/api/change_request", s.handleChangeRequest)
	r.Post("/api/technical_guidance", s.handleGuidance)
	r.Post("/api/ask_agent", s.handleAsk)
	r.Post("/api/demonstrate_cot", s.handleCoT)
	r.Post("/api/demonstrate_safe_config", s.handleConfigDemo)
	r.Post("/api/upload_safe_config_image/{config}", s.handleUpload)
	r.Get("/api/state", s.handleState)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/communications", s.handleCommunications)
	r.Get("/socket.io/", s.handleSocket)
	return r
}

// record logs the request and routes it to an override when one is set
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytesReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			RequestID:   r.Header.Get("X-Request-ID"),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		override := s.overrides[r.URL.Path]
		s.mu.Unlock()

		if override != nil {
			override(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Override replaces the handler for one path
func (s *Server) Override(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[path] = h
}

// Requests returns every request received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// SetState replaces the backend's simulation state
func (s *Server) SetState(snap model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = snap.Clone()
}

// State returns the backend's simulation state
func (s *Server) State() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// AddCommunication appends to the communication log
func (s *Server) AddCommunication(c model.Communication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comms = append(s.comms, c)
	s.state.CommCount = len(s.comms)
}

// AddEvent appends to the event log
func (s *Server) AddEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	s.state.EventCount = len(s.events)
}

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Reject writes the backend's error envelope
func Reject(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{"status": "error", "message": msg})
}

// SampleBacklog is the backlog the fake seeds a new simulation with
func SampleBacklog() []model.BacklogItem {
	est := func(n int) *int { return &n }
	return []model.BacklogItem{
		{Name: "User Authentication", Description: "Login and roles", Priority: 1, Estimate: est(8), Status: model.ItemStatusNotStarted},
		{Name: "Dashboard UI", Description: "Main dashboard", Priority: 2, Estimate: est(5), Status: model.ItemStatusNotStarted},
		{Name: "API Integration", Description: "Partner APIs", Priority: 3, Estimate: est(13), Status: model.ItemStatusNotStarted},
		{Name: "Data Export", Description: "CSV and PDF export", Priority: 5, Estimate: est(3), Status: model.ItemStatusNotStarted},
		{Name: "Notifications", Priority: 8, Status: model.ItemStatusNotStarted},
	}
}

func (s *Server) timestamp() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// requireInit rejects the request when no simulation exists. Callers hold
// s.mu.
func (s *Server) requireInit(w http.ResponseWriter) bool {
	if !s.state.Initialized {
		Reject(w, http.StatusBadRequest, "Simulation not initialized")
		return false
	}
	return true
}

func (s *Server) logEvent(kind, desc string) {
	s.events = append(s.events, model.Event{
		DateTime: s.timestamp(), Type: kind, Description: desc,
		PI: s.state.CurrentPI, Sprint: s.state.CurrentSprint, Day: s.state.CurrentDay,
	})
	s.state.EventCount = len(s.events)
}

func (s *Server) logComm(from, to, msg string) {
	s.comms = append(s.comms, model.Communication{
		DateTime: s.timestamp(), Sender: from, Recipient: to, Message: msg,
		PI: s.state.CurrentPI, Sprint: s.state.CurrentSprint,
	})
	s.state.CommCount = len(s.comms)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectName      string              `json:"project_name"`
		Configuration    model.Configuration `json:"configuration"`
		UseSampleBacklog *bool               `json:"use_sample_backlog"`
		CustomBacklog    []model.BacklogItem `json:"custom_backlog"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Reject(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ProjectName == "" {
		req.ProjectName = "Demo Project"
	}
	if req.Configuration == "" {
		req.Configuration = model.ConfigEssential
	}
	backlog := req.CustomBacklog
	if req.UseSampleBacklog == nil || *req.UseSampleBacklog {
		backlog = SampleBacklog()
	}

	s.mu.Lock()
	s.comms = nil
	s.events = nil
	s.state = model.Snapshot{
		Initialized:   true,
		ProjectName:   req.ProjectName,
		Configuration: req.Configuration,
		Metrics:       model.Metrics{PIPredictability: "N/A"},
		FullBacklog:   backlog,
		BacklogSize:   len(backlog),
	}
	s.logEvent("Simulation Setup", "Project "+req.ProjectName+" initialized")
	state := s.state.Clone()
	s.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Simulation initialized with %s configuration", req.Configuration),
		"state":   state,
	})
}

func (s *Server) handleStartPI(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	s.state.CurrentPI++
	s.state.CurrentSprint = 0
	s.state.CurrentDay = 0
	n := min(3, len(s.state.FullBacklog))
	s.state.PIScope = append([]model.BacklogItem(nil), s.state.FullBacklog[:n]...)
	s.state.PIScopeSize = n
	s.state.SprintBacklog = nil
	s.logEvent("PI Planning", fmt.Sprintf("PI %d planning completed with %d items in scope", s.state.CurrentPI, n))
	plan := fmt.Sprintf("PI %d planned with %d features", s.state.CurrentPI, n)
	s.logComm("SAFe Coach", "Team", plan)
	state := s.state.Clone()
	pi := s.state.CurrentPI
	s.mu.Unlock()

	s.Emit(string(push.EventPIStarted), map[string]any{"pi_number": pi, "state": state})
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"pi_number":             pi,
			"scope":                 state.PIScope,
			"planning_details":      plan,
			"planning_details_html": "<p>" + plan + "</p>",
		},
		"state": state,
	})
}

func (s *Server) handleStartSprint(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	if s.state.CurrentPI == 0 {
		s.mu.Unlock()
		Reject(w, http.StatusBadRequest, "Must start a PI first")
		return
	}
	s.state.CurrentSprint++
	s.state.CurrentDay = 0
	n := min(2, len(s.state.PIScope))
	s.state.SprintBacklog = append([]model.BacklogItem(nil), s.state.PIScope[:n]...)
	plan := fmt.Sprintf("Sprint %d planned with %d items", s.state.CurrentSprint, n)
	s.logEvent("Sprint Planning", plan)
	state := s.state.Clone()
	s.mu.Unlock()

	s.Emit(string(push.EventSprintStarted), map[string]any{
		"sprint_number": state.CurrentSprint, "pi_number": state.CurrentPI, "state": state,
	})
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"sprint_number":         state.CurrentSprint,
			"pi_number":             state.CurrentPI,
			"backlog":               state.SprintBacklog,
			"planning_details":      plan,
			"planning_details_html": "<p>" + plan + "</p>",
		},
		"state": state,
	})
}

func (s *Server) handleStandup(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	if s.state.CurrentSprint == 0 {
		s.mu.Unlock()
		Reject(w, http.StatusBadRequest, "Must start a sprint first")
		return
	}
	s.state.CurrentDay++
	summary := fmt.Sprintf("Day %d: team on track", s.state.CurrentDay)
	s.logEvent("Daily Standup", summary)
	state := s.state.Clone()
	s.mu.Unlock()

	s.Emit(string(push.EventStandupCompleted), map[string]any{
		"day": state.CurrentDay, "sprint": state.CurrentSprint, "pi": state.CurrentPI, "state": state,
	})
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"day":    state.CurrentDay,
			"sprint": state.CurrentSprint,
			"pi":     state.CurrentPI,
			"updates": []model.StandupUpdate{
				{Member: "Developer", Status: "Working on Dashboard UI"},
				{Member: "Tester", Status: "Blocked on test data", Impediment: "Test data missing"},
			},
			"standup_summary":       summary,
			"standup_summary_html":  "<p>" + summary + "</p>",
			"impediments_addressed": []string{"Test data missing"},
		},
		"state": state,
	})
}

func (s *Server) handleEndSprint(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	if s.state.CurrentSprint == 0 {
		s.mu.Unlock()
		Reject(w, http.StatusBadRequest, "No active sprint to end")
		return
	}
	// closing a sprint keeps the counters; only start_pi and start_sprint move them
	ended := s.state.CurrentSprint
	completed := s.state.SprintBacklog
	s.state.Metrics.Velocity += 13
	s.state.Metrics.PointsCompleted += 13
	s.logEvent("Sprint Review", fmt.Sprintf("Completed Sprint %d", ended))
	state := s.state.Clone()
	s.mu.Unlock()

	s.Emit(string(push.EventSprintEnded), map[string]any{
		"sprint_number": ended, "completion_rate": 0.85, "state": state,
	})
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"sprint_number":      ended,
			"pi_number":          state.CurrentPI,
			"completed_items":    completed,
			"completion_rate":    0.85,
			"retrospective":      "Keep pairing.",
			"retrospective_html": "<h2>Retrospective</h2><ul><li>Keep pairing.</li></ul>",
			"technical_debt":     []string{"Flaky export test"},
		},
		"state": state,
	})
}

func (s *Server) handleEndPI(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	if s.state.CurrentPI == 0 {
		s.mu.Unlock()
		Reject(w, http.StatusBadRequest, "No active PI to end")
		return
	}
	ended := s.state.CurrentPI
	sprints := s.state.CurrentSprint
	s.state.Metrics.PIPredictability = "87.5%"
	s.logEvent("Inspect & Adapt", fmt.Sprintf("Completed I&A workshop for PI %d", ended))
	state := s.state.Clone()
	s.mu.Unlock()

	s.Emit(string(push.EventPIEnded), map[string]any{
		"pi_number": ended, "predictability": 87.5, "state": state,
	})
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"pi_number":              ended,
			"sprints_completed":      sprints,
			"metrics":                map[string]float64{"predictability": 87.5, "business_value": 8.2, "team_satisfaction": 7.5},
			"achievements":           []string{"Feature A", "Feature B"},
			"inspect_and_adapt":      "Improve estimation.",
			"inspect_and_adapt_html": "<p>Improve estimation.</p>",
		},
		"state": state,
	})
}

func (s *Server) handleChangeRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
		Priority    int    `json:"priority"`
		Strategic   bool   `json:"strategic"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	s.logEvent("Sprint Change", "Evaluating mid-sprint change: "+req.Description)
	state := s.state.Clone()
	s.mu.Unlock()

	data := map[string]any{"level": "team", "accepted": true}
	if req.Strategic {
		data["handler"] = "SAFe Coach"
		data["response"] = "Accept for next PI."
		data["response_html"] = "<p>Accept for next PI.</p>"
	} else {
		data["handler"] = "Scrum Master & Developer"
		data["sm_response"] = "We can absorb it."
		data["sm_response_html"] = "<p>We can absorb it.</p>"
		data["dev_response"] = "Two days of work."
		data["dev_response_html"] = "<p>Two days of work.</p>"
	}

	s.Emit(string(push.EventChangeProcessed), map[string]any{
		"change": req.Description, "accepted": true, "handler": data["handler"], "state": state,
	})
	WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data, "state": state})
}

func (s *Server) handleGuidance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	state := s.state.Clone()
	s.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"topic":         req.Topic,
			"guidance":      "Use feature toggles.",
			"guidance_html": "<p>Use <em>feature toggles</em>.</p>",
		},
		"state": state,
	})
}

type agentRequest struct {
	AgentType string `json:"agent_type"`
	Question  string `json:"question"`
}

func (s *Server) decodeAgentRequest(w http.ResponseWriter, r *http.Request) (agentRequest, bool) {
	var req agentRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.AgentType == "" || req.Question == "" {
		Reject(w, http.StatusBadRequest, "Missing agent_type or question")
		return req, false
	}
	switch model.AgentType(req.AgentType) {
	case model.AgentCoach, model.AgentScrumMaster, model.AgentDeveloper:
	default:
		Reject(w, http.StatusBadRequest, "Unknown agent type: "+req.AgentType)
		return req, false
	}
	return req, true
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	req, ok := s.decodeAgentRequest(w, r)
	if !ok {
		return
	}
	answer := "Answer from " + req.AgentType + ": " + req.Question

	s.mu.Lock()
	s.logComm("User", req.AgentType, req.Question)
	s.logComm(req.AgentType, "User", answer)
	s.logEvent("Question to "+req.AgentType, req.Question)
	state := s.state.Clone()
	s.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"response":      answer,
		"response_html": "<p>" + answer + "</p>",
		"timestamp":     s.timestamp(),
		"state":         state,
	})
}

// Reasoning builds a stepwise answer in the backend's shape
func Reasoning(prefix string, steps int) map[string]any {
	var plain, html []string
	for i := 1; i <= steps; i++ {
		step := fmt.Sprintf("%s step %d", prefix, i)
		plain = append(plain, step)
		html = append(html, "<p>"+step+"</p>")
	}
	return map[string]any{
		"thought_process":      plain,
		"thought_process_html": html,
		"conclusion":           prefix + " conclusion",
		"conclusion_html":      "<p>" + prefix + " conclusion</p>",
	}
}

func (s *Server) handleCoT(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	req, ok := s.decodeAgentRequest(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	s.logEvent("CoT Question to "+req.AgentType, req.Question)
	state := s.state.Clone()
	s.mu.Unlock()

	body := Reasoning(req.AgentType, 3)
	body["status"] = "success"
	body["agent_type"] = req.AgentType
	body["question"] = req.Question
	body["timestamp"] = s.timestamp()
	body["state"] = state
	WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleConfigDemo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigType string `json:"config_type"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	if !s.requireInit(w) {
		s.mu.Unlock()
		return
	}
	if req.ConfigType == "" {
		s.mu.Unlock()
		Reject(w, http.StatusBadRequest, "Missing config_type")
		return
	}
	s.logEvent("SAFe Configuration Demonstration", "All agents provided explanations")
	state := s.state.Clone()
	s.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"config_type":  req.ConfigType,
		"coach":        Reasoning("coach", 2),
		"scrum_master": Reasoning("scrum_master", 2),
		"developer":    Reasoning("developer", 1),
		"timestamp":    s.timestamp(),
		"state":        state,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	cfg := chi.URLParam(r, "config")
	file, header, err := r.FormFile("image")
	if err != nil {
		Reject(w, http.StatusBadRequest, "No image provided")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		Reject(w, http.StatusBadRequest, "No image selected")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Image uploaded successfully",
		"path":    "/static/images/safe_configurations/" + cfg + ".jpg",
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireInit(w) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "data": s.state})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireInit(w) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "data": tail(s.events, r)})
}

func (s *Server) handleCommunications(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireInit(w) {
		return
	}
	comms := tail(s.comms, r)
	for i := range comms {
		comms[i].MessageHTML = "<p>" + comms[i].Message + "</p>"
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "data": comms})
}

func tail[T any](items []T, r *http.Request) []T {
	out := append([]T{}, items...)
	var limit int
	fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit)
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}
