// Package testreports serves a fake reporting API: a client-credentials token
// endpoint and a GraphQL endpoint that answers the queries the wcl client
// sends. Used by tests and by cmd/fake-reports.
package testreports

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
)

// Route paths.
const (
	TokenPath   = "/oauth/token"
	GraphQLPath = "/api/v2/client"
)

// Default credentials accepted by the fake token endpoint.
const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	accessToken  = "test-access-token"
)

// Pull is one dungeon pull inside a fight.
type Pull struct {
	Name        string
	EncounterID int
	StartTime   int64
	EndTime     int64
	Kill        bool
}

// Fight is one keystone fight. Times are offsets from the report start.
type Fight struct {
	ID            int
	Name          string
	StartTime     int64
	EndTime       int64
	KeystoneLevel int
	KeystoneTime  int64
	KeystoneBonus *int
	Rating        *float64
	Kill          bool
	Deaths        int
	Pulls         []Pull
}

// Report is a fake report.
type Report struct {
	Code      string
	StartTime int64
	Fights    []Fight
}

// Handler is the fake API. It is safe for concurrent use.
type Handler struct {
	mu        sync.Mutex
	reports   map[string]Report
	failures  int // remaining GraphQL requests answered with failCode
	failCode  int
	reject    bool
	tableOnly bool
	expiresIn int

	tokenRequests   atomic.Int32
	graphqlRequests atomic.Int32

	router chi.Router
}

// NewHandler creates an empty fake API.
func NewHandler() *Handler {
	h := &Handler{reports: make(map[string]Report), expiresIn: 3600}
	r := chi.NewRouter()
	r.Post(TokenPath, h.token)
	r.Post(GraphQLPath, h.graphql)
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.router.ServeHTTP(w, r) }

// AddReport registers or replaces a report.
func (h *Handler) AddReport(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports[r.Code] = r
}

// FailNext answers the next n GraphQL requests with status.
func (h *Handler) FailNext(n, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = n
	h.failCode = status
}

// RejectTokens makes the token endpoint refuse every exchange.
func (h *Handler) RejectTokens(reject bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reject = reject
}

// DeathsTableOnly makes death event queries fail so clients use the table.
func (h *Handler) DeathsTableOnly(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tableOnly = on
}

// SetExpiresIn sets expires_in on issued tokens. Zero omits the field.
func (h *Handler) SetExpiresIn(sec int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expiresIn = sec
}

// TokenRequests counts token exchanges served.
func (h *Handler) TokenRequests() int { return int(h.tokenRequests.Load()) }

// GraphQLRequests counts GraphQL requests served, failures included.
func (h *Handler) GraphQLRequests() int { return int(h.graphqlRequests.Load()) }

func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	h.tokenRequests.Add(1)
	h.mu.Lock()
	reject, expiresIn := h.reject, h.expiresIn
	h.mu.Unlock()

	id, secret, ok := r.BasicAuth()
	if reject || !ok || id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}
	body := map[string]any{"access_token": accessToken, "token_type": "Bearer"}
	if expiresIn > 0 {
		body["expires_in"] = expiresIn
	}
	writeJSON(w, http.StatusOK, body)
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func (h *Handler) graphql(w http.ResponseWriter, r *http.Request) {
	h.graphqlRequests.Add(1)
	if r.Header.Get("Authorization") != "Bearer "+accessToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
		return
	}

	h.mu.Lock()
	if h.failures > 0 {
		h.failures--
		code := h.failCode
		h.mu.Unlock()
		writeJSON(w, code, map[string]any{"error": http.StatusText(code)})
		return
	}
	tableOnly := h.tableOnly
	h.mu.Unlock()

	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad json"})
		return
	}
	code, _ := req.Variables["code"].(string)

	h.mu.Lock()
	rep, found := h.reports[code]
	h.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusOK, data(map[string]any{"report": nil}))
		return
	}
	fid := fightID(req.Variables["fid"])

	switch {
	case strings.Contains(req.Query, "dungeonPulls"):
		writeJSON(w, http.StatusOK, data(map[string]any{"report": map[string]any{"fights": pullsFor(rep, fid)}}))
	case strings.Contains(req.Query, "events("):
		if tableOnly {
			writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]any{{"message": "events unavailable"}}})
			return
		}
		events := make([]map[string]any, deathsIn(rep, fid))
		for i := range events {
			events[i] = map[string]any{"type": "death"}
		}
		writeJSON(w, http.StatusOK, data(map[string]any{"report": map[string]any{"events": map[string]any{"data": events}}}))
	case strings.Contains(req.Query, "table("):
		table := map[string]any{"entries": []map[string]any{{"deaths": deathsIn(rep, fid)}}}
		writeJSON(w, http.StatusOK, data(map[string]any{"report": map[string]any{"table": table}}))
	default:
		writeJSON(w, http.StatusOK, data(map[string]any{"report": reportBody(rep)}))
	}
}

func data(report map[string]any) map[string]any {
	return map[string]any{"data": map[string]any{"reportData": report}}
}

func reportBody(rep Report) map[string]any {
	fights := make([]map[string]any, 0, len(rep.Fights))
	for _, f := range rep.Fights {
		m := map[string]any{
			"id":            f.ID,
			"name":          f.Name,
			"startTime":     f.StartTime,
			"endTime":       f.EndTime,
			"keystoneLevel": f.KeystoneLevel,
			"keystoneTime":  f.KeystoneTime,
			"kill":          f.Kill,
			"keystoneBonus": nil,
			"rating":        nil,
		}
		if f.KeystoneBonus != nil {
			m["keystoneBonus"] = *f.KeystoneBonus
		}
		if f.Rating != nil {
			m["rating"] = *f.Rating
		}
		fights = append(fights, m)
	}
	return map[string]any{"code": rep.Code, "startTime": rep.StartTime, "fights": fights}
}

func pullsFor(rep Report, fid int) []map[string]any {
	for _, f := range rep.Fights {
		if f.ID != fid {
			continue
		}
		pulls := make([]map[string]any, 0, len(f.Pulls))
		for i, p := range f.Pulls {
			pulls = append(pulls, map[string]any{
				"id": i + 1, "name": p.Name, "encounterID": p.EncounterID,
				"startTime": p.StartTime, "endTime": p.EndTime, "kill": p.Kill,
			})
		}
		return []map[string]any{{
			"id": f.ID, "startTime": f.StartTime, "endTime": f.EndTime,
			"keystoneTime": f.KeystoneTime, "dungeonPulls": pulls,
		}}
	}
	return []map[string]any{}
}

func deathsIn(rep Report, fid int) int {
	for _, f := range rep.Fights {
		if f.ID == fid {
			return f.Deaths
		}
	}
	return 0
}

// fightID reads $fid, which is an Int for death queries and [Int] for pulls.
func fightID(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case []any:
		if len(x) > 0 {
			if f, ok := x[0].(float64); ok {
				return int(f)
			}
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Server is a running fake API for tests.
type Server struct {
	*Handler
	srv *httptest.Server
}

// NewServer starts a fake API on a random local port.
func NewServer() *Server {
	h := NewHandler()
	return &Server{Handler: h, srv: httptest.NewServer(h)}
}

// URL is the server base URL.
func (s *Server) URL() string { return s.srv.URL }

// TokenURL is the token endpoint.
func (s *Server) TokenURL() string { return s.srv.URL + TokenPath }

// GraphQLURL is the GraphQL endpoint.
func (s *Server) GraphQLURL() string { return s.srv.URL + GraphQLPath }

// Close stops the server.
func (s *Server) Close() { s.srv.Close() }
