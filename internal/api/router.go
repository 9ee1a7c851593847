package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/soaringjerry/Pulse/internal/middleware"
	"github.com/soaringjerry/Pulse/internal/models"
	"github.com/soaringjerry/Pulse/internal/services"
	"github.com/soaringjerry/Pulse/internal/utils"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators the router wires into its services.
type Deps struct {
	Store    Store
	Auth     *middleware.Authenticator
	Admins   services.AdminDirectory
	Metrics  services.MetricsRecorder
	Archiver services.SnapshotArchiver
}

type Router struct {
	auth        *middleware.Authenticator
	audit       *services.Auditor
	cycles      *services.CycleService
	submissions *services.SubmissionService
	snapshots   *services.SnapshotService
	phase       *services.PhaseService
	login       *services.AuthService
}

func NewRouter(d Deps) *Router {
	if d.Store == nil {
		d.Store = NewMemoryStore()
	}
	if d.Auth == nil {
		d.Auth = middleware.NewAuthenticator("")
	}
	if d.Admins == nil {
		d.Admins = services.NewStaticDirectory()
	}
	audit := services.NewAuditor(d.Store)
	cycles := services.NewCycleService(d.Store, audit).WithMetrics(d.Metrics)
	snapshots := services.NewSnapshotService(d.Store, d.Store, audit).WithMetrics(d.Metrics)
	if d.Archiver != nil {
		snapshots.WithArchiver(d.Archiver)
	}
	return &Router{
		auth:        d.Auth,
		audit:       audit,
		cycles:      cycles,
		submissions: services.NewSubmissionService(d.Store, cycles, audit).WithMetrics(d.Metrics),
		snapshots:   snapshots,
		phase:       services.NewPhaseService(d.Store).WithMetrics(d.Metrics),
		login:       services.NewAuthService(d.Admins, d.Auth.Sign),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	// public
	mux.HandleFunc("POST /api/checkins", rt.handleSubmit)
	mux.HandleFunc("GET /api/survey", rt.handleSurvey)
	mux.HandleFunc("GET /api/phase", rt.handlePhase)
	mux.HandleFunc("GET /api/snapshots/{id}", rt.handlePublishedSnapshot)
	mux.HandleFunc("POST /api/auth/login", rt.handleLogin)

	// admin
	admin := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, rt.auth.WithAuth(middleware.RequireAdmin(h)))
	}
	admin("GET /api/admin/cycle", rt.handleCurrentCycle)
	admin("POST /api/admin/cycle/open", rt.handleCycleOpen)
	admin("POST /api/admin/cycle/close", rt.handleCycleClose)
	admin("POST /api/admin/cycle/advance", rt.handleCycleAdvance)
	admin("PUT /api/admin/cycle/survey", rt.handleSurveyQuestions)
	admin("GET /api/admin/snapshots", rt.handleListSnapshots)
	admin("POST /api/admin/snapshots", rt.handleSaveSnapshot)
	admin("GET /api/admin/snapshots/{id}", rt.handleGetSnapshot)
	admin("POST /api/admin/snapshots/{id}/publish", rt.handlePublish)
	admin("POST /api/admin/snapshots/{id}/lock", rt.handleLock)
	admin("GET /api/admin/sentiment", rt.handleSentiment)
	admin("POST /api/admin/submissions/{id}/flag", rt.handleFlag)
	admin("GET /api/admin/export", rt.handleExport)
	admin("GET /api/admin/audit", rt.handleAudit)
}

// POST /api/checkins
// { mode?, stability_score?, pillar_responses?, mood, word, spotlight_*?, device_hash? }
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode             models.SubmissionMode `json:"mode"`
		StabilityScore   int                   `json:"stability_score"`
		PillarResponses  map[models.Pillar]int `json:"pillar_responses"`
		Mood             models.Mood           `json:"mood"`
		Word             string                `json:"word"`
		SpotlightState   string                `json:"spotlight_state"`
		SpotlightTags    []string              `json:"spotlight_tags"`
		SpotlightComment string                `json:"spotlight_comment"`
		DeviceHash       string                `json:"device_hash"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	device := req.DeviceHash
	if device == "" {
		device = r.Header.Get("X-Device-Hash")
	}
	sub, err := rt.submissions.Submit(r.Context(), services.CheckIn{
		Mode:             req.Mode,
		StabilityScore:   req.StabilityScore,
		PillarResponses:  req.PillarResponses,
		Mood:             req.Mood,
		Word:             req.Word,
		SpotlightState:   req.SpotlightState,
		SpotlightTags:    req.SpotlightTags,
		SpotlightComment: req.SpotlightComment,
	}, device)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": sub.ID, "cycle_id": sub.CycleID})
}

// GET /api/survey?device=...
func (rt *Router) handleSurvey(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	if device == "" {
		device = r.Header.Get("X-Device-Hash")
	}
	survey, err := rt.submissions.OpenCycleSurvey(r.Context(), device)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open": survey != nil, "survey": survey})
}

// GET /api/phase
func (rt *Router) handlePhase(w http.ResponseWriter, r *http.Request) {
	view, err := rt.phase.Resolve(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /api/snapshots/{id}
func (rt *Router) handlePublishedSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.snapshots.GetPublished(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// POST /api/auth/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := rt.login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleCurrentCycle(w http.ResponseWriter, r *http.Request) {
	c, err := rt.cycles.EnsureCycle(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (rt *Router) handleCycleOpen(w http.ResponseWriter, r *http.Request) {
	c, err := rt.cycles.Open(r.Context(), middleware.ActorFromContext(r.Context()))
	respond(w, r, c, err)
}

func (rt *Router) handleCycleClose(w http.ResponseWriter, r *http.Request) {
	c, err := rt.cycles.Close(r.Context(), middleware.ActorFromContext(r.Context()))
	respond(w, r, c, err)
}

func (rt *Router) handleCycleAdvance(w http.ResponseWriter, r *http.Request) {
	c, err := rt.cycles.Advance(r.Context(), middleware.ActorFromContext(r.Context()))
	respond(w, r, c, err)
}

// PUT /api/admin/cycle/survey { questions: [...], open_after?: bool }
func (rt *Router) handleSurveyQuestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Questions []models.SurveyQuestion `json:"questions"`
		OpenAfter bool                    `json:"open_after"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := rt.cycles.SetSurveyQuestions(r.Context(), middleware.ActorFromContext(r.Context()), req.Questions, req.OpenAfter)
	respond(w, r, c, err)
}

func (rt *Router) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := rt.snapshots.List(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": list})
}

func (rt *Router) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var d services.SnapshotDraft
	if !decodeJSON(w, r, &d) {
		return
	}
	snap, err := rt.snapshots.Save(r.Context(), middleware.ActorFromContext(r.Context()), d)
	respond(w, r, snap, err)
}

func (rt *Router) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.snapshots.Get(r.Context(), middleware.ActorFromContext(r.Context()), r.PathValue("id"))
	respond(w, r, snap, err)
}

func (rt *Router) handlePublish(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.snapshots.Publish(r.Context(), middleware.ActorFromContext(r.Context()), r.PathValue("id"))
	respond(w, r, snap, err)
}

func (rt *Router) handleLock(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.snapshots.Lock(r.Context(), middleware.ActorFromContext(r.Context()), r.PathValue("id"))
	respond(w, r, snap, err)
}

// GET /api/admin/sentiment?cycle_id=...
func (rt *Router) handleSentiment(w http.ResponseWriter, r *http.Request) {
	sum, err := rt.submissions.Sentiment(r.Context(), middleware.ActorFromContext(r.Context()), r.URL.Query().Get("cycle_id"))
	respond(w, r, sum, err)
}

// POST /api/admin/submissions/{id}/flag { flagged: bool }
func (rt *Router) handleFlag(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Flagged *bool `json:"flagged"`
	}{}
	if !decodeJSON(w, r, &req) {
		return
	}
	flagged := req.Flagged == nil || *req.Flagged
	sub, err := rt.submissions.SetFlagged(r.Context(), middleware.ActorFromContext(r.Context()), r.PathValue("id"), flagged)
	respond(w, r, sub, err)
}

// GET /api/admin/export?cycle_id=...
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	b, cycleID, err := rt.submissions.ExportCSV(r.Context(), middleware.ActorFromContext(r.Context()), r.URL.Query().Get("cycle_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=checkins-%s.csv", cycleID))
	_, _ = w.Write(b)
}

// GET /api/admin/audit?limit=...
func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := rt.audit.List(r.Context(), middleware.ActorFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, services.NewInvalidError("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps typed service errors onto HTTP statuses. Anything else is
// an infrastructure failure and is logged, not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	se, ok := services.AsServiceError(err)
	if !ok {
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
			"code":  "internal",
			"hint":  utils.T(locale, "error.internal"),
		})
		return
	}
	writeJSON(w, statusFor(se.Code), map[string]string{
		"error": se.Message,
		"code":  string(se.Code),
		"hint":  utils.T(locale, "error."+string(se.Code)),
	})
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorPII:
		return http.StatusUnprocessableEntity
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
