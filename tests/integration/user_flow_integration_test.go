//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("PULSE_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func adminCredentials(t *testing.T) (string, string) {
	email := os.Getenv("PULSE_TEST_ADMIN_EMAIL")
	password := os.Getenv("PULSE_TEST_ADMIN_PASSWORD")
	if email == "" || password == "" {
		t.Skip("PULSE_TEST_ADMIN_EMAIL and PULSE_TEST_ADMIN_PASSWORD are required")
	}
	return email, password
}

func TestPublicationJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()
	email, password := adminCredentials(t)

	var loginResp struct {
		Token string `json:"token"`
	}
	doRequest(t, client, http.MethodPost, base+"/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, http.StatusOK, &loginResp)
	token := loginResp.Token
	if token == "" {
		t.Fatalf("login did not return token")
	}

	var cycle struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	doRequest(t, client, http.MethodGet, base+"/api/admin/cycle", token, nil, http.StatusOK, &cycle)
	if cycle.Status != "OPEN" {
		doRequest(t, client, http.MethodPost, base+"/api/admin/cycle/open", token, nil, http.StatusOK, &cycle)
	}

	device := fmt.Sprintf("integration-%d", time.Now().UnixNano())
	checkin := map[string]any{"stability_score": 7, "mood": "hopeful", "word": "steady", "device_hash": device}
	var created struct {
		ID      string `json:"id"`
		CycleID string `json:"cycle_id"`
	}
	doRequest(t, client, http.MethodPost, base+"/api/checkins", "", checkin, http.StatusCreated, &created)
	if created.CycleID != cycle.ID {
		t.Fatalf("check-in landed in cycle %s, want %s", created.CycleID, cycle.ID)
	}
	doRequest(t, client, http.MethodPost, base+"/api/checkins", "", checkin, http.StatusConflict, nil)

	doRequest(t, client, http.MethodPost, base+"/api/admin/cycle/close", token, nil, http.StatusOK, &cycle)
	assertPhase(t, client, base, "PROCESSING_CLOSED")

	var snap struct {
		ID       string `json:"id"`
		IsLocked bool   `json:"is_locked"`
	}
	doRequest(t, client, http.MethodPost, base+"/api/admin/snapshots", token, map[string]any{
		"cycle_id":      cycle.ID,
		"period":        "Integration",
		"overall_score": 6.5,
		"narrative":     "Integration run.",
	}, http.StatusOK, &snap)
	doRequest(t, client, http.MethodPost, base+"/api/admin/snapshots/"+snap.ID+"/publish", token, nil, http.StatusOK, &snap)
	assertPhase(t, client, base, "PUBLICATION_LIVE")
	doRequest(t, client, http.MethodGet, base+"/api/snapshots/"+snap.ID, "", nil, http.StatusOK, nil)

	doRequest(t, client, http.MethodPost, base+"/api/admin/snapshots/"+snap.ID+"/lock", token, nil, http.StatusOK, &snap)
	if !snap.IsLocked {
		t.Fatalf("snapshot not locked after lock call")
	}

	var next struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	doRequest(t, client, http.MethodPost, base+"/api/admin/cycle/advance", token, nil, http.StatusOK, &next)
	if next.ID == cycle.ID || next.Status != "OPEN" {
		t.Fatalf("advance returned %+v", next)
	}
	assertPhase(t, client, base, "COLLECTION_OPEN")
}

func assertPhase(t *testing.T, client *http.Client, base, want string) {
	t.Helper()
	var v struct {
		Phase string `json:"phase"`
	}
	doRequest(t, client, http.MethodGet, base+"/api/phase", "", nil, http.StatusOK, &v)
	if v.Phase != want {
		t.Fatalf("phase = %s, want %s", v.Phase, want)
	}
}

func doRequest(t *testing.T, client *http.Client, method, url, token string, body any, wantStatus int, out any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http %s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s %s (want %d): %s", resp.StatusCode, method, url, wantStatus, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
