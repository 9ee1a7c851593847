package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/soaringjerry/Pulse/internal/middleware"
	"github.com/soaringjerry/Pulse/internal/services"
	"github.com/soaringjerry/Pulse/internal/utils"
)

const (
	editorEmail    = "editor@pulse.test"
	editorPassword = "correct-horse"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(editorPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	rt := NewRouter(Deps{
		Store:  NewMemoryStore(),
		Auth:   middleware.NewAuthenticator("test-secret"),
		Admins: services.NewStaticDirectory(services.AdminAccount{ID: "ed1", Email: editorEmail, PassHash: hash}),
	})
	mux := http.NewServeMux()
	rt.Register(mux)
	srv := httptest.NewServer(middleware.LocaleMiddleware(mux))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func login(t *testing.T, base string) string {
	t.Helper()
	var res struct {
		Token string `json:"token"`
	}
	if code := do(t, http.MethodPost, base+"/api/auth/login", "", map[string]string{"email": editorEmail, "password": editorPassword}, &res); code != http.StatusOK {
		t.Fatalf("login status = %d", code)
	}
	if res.Token == "" {
		t.Fatalf("login returned empty token")
	}
	return res.Token
}

func checkin(device string) map[string]any {
	return map[string]any{"stability_score": 6, "mood": "hopeful", "word": "steady", "device_hash": device}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Hint  string `json:"hint"`
}

func TestSubmitDedupesPerDevice(t *testing.T) {
	srv := newTestServer(t)

	var created struct {
		OK      bool   `json:"ok"`
		ID      string `json:"id"`
		CycleID string `json:"cycle_id"`
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/checkins", "", checkin("dev-1"), &created); code != http.StatusCreated {
		t.Fatalf("first submit status = %d, want 201", code)
	}
	if !created.OK || created.ID == "" || created.CycleID == "" {
		t.Fatalf("unexpected submit body: %+v", created)
	}

	var eb errorBody
	if code := do(t, http.MethodPost, srv.URL+"/api/checkins", "", checkin("dev-1"), &eb); code != http.StatusConflict {
		t.Fatalf("second submit status = %d, want 409", code)
	}
	if eb.Error != "already submitted" || eb.Code != "conflict" {
		t.Fatalf("second submit body = %+v", eb)
	}

	var survey struct {
		Open   bool `json:"open"`
		Survey struct {
			AlreadySubmitted bool `json:"already_submitted"`
		} `json:"survey"`
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/survey?device=dev-1", "", nil, &survey); code != http.StatusOK {
		t.Fatalf("survey status = %d", code)
	}
	if !survey.Open || !survey.Survey.AlreadySubmitted {
		t.Fatalf("survey = %+v, want open and already submitted", survey)
	}
}

func TestSubmitDeviceHashHeaderFallback(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{"stability_score": 3, "mood": "anxious", "word": "tense"}
	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		b, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/checkins", bytes.NewReader(b))
		req.Header.Set("X-Device-Hash", "hdr-device")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("submit %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
}

func TestSubmitRejectsPIIWithLocalizedHint(t *testing.T) {
	srv := newTestServer(t)
	body := checkin("dev-pii")
	body["spotlight_comment"] = "write me at someone@example.com"
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/checkins", bytes.NewReader(b))
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.5")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var eb errorBody
	if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if eb.Code != "pii" || eb.Hint != utils.T("fr", "error.pii") {
		t.Fatalf("body = %+v", eb)
	}
	if got := resp.Header.Get("Content-Language"); got != "fr" {
		t.Fatalf("Content-Language = %q, want fr", got)
	}
}

func TestSubmitRejectsMalformedJSON(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/checkins", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/admin/cycle"},
		{http.MethodPost, "/api/admin/cycle/close"},
		{http.MethodGet, "/api/admin/snapshots"},
		{http.MethodGet, "/api/admin/export"},
		{http.MethodGet, "/api/admin/audit"},
	}
	for _, p := range paths {
		var eb errorBody
		if code := do(t, p.method, srv.URL+p.path, "", nil, &eb); code != http.StatusUnauthorized {
			t.Fatalf("%s %s status = %d, want 401", p.method, p.path, code)
		}
		if eb.Code != "unauthorized" {
			t.Fatalf("%s %s code = %q", p.method, p.path, eb.Code)
		}
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/admin/cycle", "not-a-token", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	var eb errorBody
	code := do(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{"email": editorEmail, "password": "nope-nope"}, &eb)
	if code != http.StatusUnauthorized || eb.Code != "unauthorized" {
		t.Fatalf("login = %d %+v, want 401 unauthorized", code, eb)
	}
}

func TestPhaseFollowsPublicationLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv.URL)

	phase := func() string {
		t.Helper()
		var v struct {
			Phase string `json:"phase"`
		}
		if code := do(t, http.MethodGet, srv.URL+"/api/phase", "", nil, &v); code != http.StatusOK {
			t.Fatalf("phase status = %d", code)
		}
		return v.Phase
	}

	if got := phase(); got != "COLLECTION_OPEN" {
		t.Fatalf("initial phase = %s", got)
	}

	var cycle struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/admin/cycle", token, nil, &cycle); code != http.StatusOK || cycle.ID == "" {
		t.Fatalf("cycle = %d %+v", code, cycle)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/checkins", "", checkin("dev-a"), nil); code != http.StatusCreated {
		t.Fatalf("submit status = %d", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/admin/cycle/close", token, nil, &cycle); code != http.StatusOK || cycle.Status != "CLOSED" {
		t.Fatalf("close = %d %+v", code, cycle)
	}
	if got := phase(); got != "PROCESSING_CLOSED" {
		t.Fatalf("phase after close = %s", got)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/checkins", "", checkin("dev-b"), nil); code != http.StatusConflict {
		t.Fatalf("submit while closed status = %d, want 409", code)
	}

	var snap struct {
		ID          string  `json:"id"`
		PublishedAt *string `json:"published_at"`
		IsLocked    bool    `json:"is_locked"`
	}
	draft := map[string]any{"cycle_id": cycle.ID, "period": "March 2026", "overall_score": 5.5, "narrative": "Calm month."}
	if code := do(t, http.MethodPost, srv.URL+"/api/admin/snapshots", token, draft, &snap); code != http.StatusOK || snap.ID == "" {
		t.Fatalf("save = %d %+v", code, snap)
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/snapshots/"+snap.ID, "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("public draft status = %d, want 404", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/admin/snapshots/"+snap.ID+"/lock", token, nil, nil); code != http.StatusConflict {
		t.Fatalf("lock before publish status = %d, want 409", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/admin/snapshots/"+snap.ID+"/publish", token, nil, &snap); code != http.StatusOK || snap.PublishedAt == nil {
		t.Fatalf("publish = %d %+v", code, snap)
	}
	if got := phase(); got != "PUBLICATION_LIVE" {
		t.Fatalf("phase after publish = %s", got)
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/snapshots/"+snap.ID, "", nil, nil); code != http.StatusOK {
		t.Fatalf("public snapshot status = %d", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/admin/snapshots/"+snap.ID+"/lock", token, nil, &snap); code != http.StatusOK || !snap.IsLocked {
		t.Fatalf("lock = %d %+v", code, snap)
	}
	draft["id"] = snap.ID
	draft["narrative"] = "Edited after lock."
	if code := do(t, http.MethodPost, srv.URL+"/api/admin/snapshots", token, draft, nil); code != http.StatusConflict {
		t.Fatalf("edit locked status = %d, want 409", code)
	}

	var next struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/admin/cycle/advance", token, nil, &next); code != http.StatusOK || next.ID == cycle.ID || next.Status != "OPEN" {
		t.Fatalf("advance = %d %+v", code, next)
	}
	if got := phase(); got != "COLLECTION_OPEN" {
		t.Fatalf("phase after advance = %s", got)
	}

	var audit struct {
		Entries []struct {
			Action string `json:"action"`
		} `json:"entries"`
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/admin/audit?limit=50", token, nil, &audit); code != http.StatusOK {
		t.Fatalf("audit status = %d", code)
	}
	actions := map[string]bool{}
	for _, e := range audit.Entries {
		actions[e.Action] = true
	}
	for _, want := range []string{services.ActionCycleClose, services.ActionSnapshotPublish, services.ActionSnapshotLock, services.ActionCycleAdvance} {
		if !actions[want] {
			t.Fatalf("audit missing %s in %+v", want, audit.Entries)
		}
	}
}

func TestExportCSVAndFlagging(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv.URL)

	var first, second struct {
		ID      string `json:"id"`
		CycleID string `json:"cycle_id"`
	}
	do(t, http.MethodPost, srv.URL+"/api/checkins", "", checkin("dev-1"), &first)
	do(t, http.MethodPost, srv.URL+"/api/checkins", "", checkin("dev-2"), &second)

	var flagged struct {
		IsFlagged bool `json:"is_flagged"`
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/admin/submissions/"+second.ID+"/flag", token, map[string]bool{"flagged": true}, &flagged); code != http.StatusOK || !flagged.IsFlagged {
		t.Fatalf("flag = %d %+v", code, flagged)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/admin/export", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, first.CycleID) {
		t.Fatalf("Content-Disposition = %q, want cycle id %s", cd, first.CycleID)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), first.ID) {
		t.Fatalf("export missing %s:\n%s", first.ID, body)
	}
	if strings.Contains(string(body), second.ID) {
		t.Fatalf("export contains flagged row %s", second.ID)
	}

	if code := do(t, http.MethodPost, srv.URL+"/api/admin/submissions/missing/flag", token, map[string]bool{"flagged": true}, nil); code != http.StatusNotFound {
		t.Fatalf("flag missing status = %d, want 404", code)
	}
}
