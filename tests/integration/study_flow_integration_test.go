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
	if v := os.Getenv("ANNOSERVE_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func TestStudyJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	adminEmail := fmt.Sprintf("integration_%d@example.com", time.Now().UnixNano())
	password := "Secret123!"

	var registerResp struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doPost(t, client, base+"/api/auth/register", "", map[string]any{
		"email":    adminEmail,
		"password": password,
	}, &registerResp)
	token := registerResp.Token
	if token == "" {
		t.Fatalf("unexpected register response: %+v", registerResp)
	}

	var expResp struct {
		ID string `json:"id"`
	}
	doPost(t, client, base+"/api/experiments", token, map[string]any{
		"name": fmt.Sprintf("Integration study %d", time.Now().UnixNano()),
	}, &expResp)
	if expResp.ID == "" {
		t.Fatalf("expected experiment id in response")
	}

	prompts := make([]map[string]any, 0, 10)
	for i := 0; i < 10; i++ {
		prompts = append(prompts, map[string]any{
			"text":      fmt.Sprintf("Integration statement %d", i),
			"responses": map[string]string{"A": "agree", "B": "disagree"},
		})
	}
	doPost(t, client, base+"/api/experiments/"+expResp.ID+"/prompts", token, map[string]any{
		"prompts": prompts,
	}, nil)

	for key, value := range map[string]string{
		"design_type":            "within",
		"formats_enabled":        "highlight,dropdown",
		"annotations_per_format": "2",
	} {
		doPut(t, client, base+"/api/experiments/"+expResp.ID+"/config", token, map[string]string{
			"key": key, "value": value,
		})
	}

	externalID := fmt.Sprintf("integration-p-%d", time.Now().UnixNano())
	var regResp struct {
		ParticipantID   string `json:"participant_id"`
		CompletionToken string `json:"completion_token"`
		DesignType      string `json:"design_type"`
	}
	doPost(t, client, base+"/api/experiments/"+expResp.ID+"/register", "", map[string]string{
		"external_id": externalID,
	}, &regResp)
	if regResp.ParticipantID == "" || regResp.DesignType != "within" {
		t.Fatalf("unexpected register response: %+v", regResp)
	}

	pbase := base + "/api/participants/" + regResp.ParticipantID
	doPost(t, client, pbase+"/consent", "", map[string]any{}, nil)
	doPost(t, client, pbase+"/instructions", "", map[string]any{}, nil)

	for i := 0; i < 4; i++ {
		var next struct {
			Done bool `json:"done"`
			Task struct {
				PromptID string `json:"prompt_id"`
				Format   string `json:"format"`
			} `json:"task"`
		}
		doGet(t, client, pbase+"/next-task", &next)
		if next.Done {
			t.Fatalf("done after %d of 4 tasks", i)
		}
		doPost(t, client, pbase+"/annotations", "", map[string]any{
			"prompt_id":    next.Task.PromptID,
			"format":       next.Task.Format,
			"answer":       map[string]string{"choice": "A"},
			"time_seconds": 7,
		}, nil)
	}

	var next struct {
		Done bool `json:"done"`
	}
	doGet(t, client, pbase+"/next-task", &next)
	if !next.Done {
		t.Fatalf("queue drained but next-task not done")
	}

	var completeResp struct {
		CompletionToken string `json:"completion_token"`
	}
	doPost(t, client, pbase+"/complete", "", map[string]any{}, &completeResp)
	if completeResp.CompletionToken != regResp.CompletionToken {
		t.Fatalf("completion token mismatch: %q vs %q", completeResp.CompletionToken, regResp.CompletionToken)
	}

	exportURL := base + "/api/experiments/" + expResp.ID + "/export"
	req, err := http.NewRequest(http.MethodGet, exportURL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("export status %d body %s", resp.StatusCode, string(body))
	}
	csvData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export data: %v", err)
	}
	if !strings.Contains(string(csvData), externalID) {
		t.Fatalf("export csv did not contain external id; csv=%s", string(csvData))
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	doRequest(t, client, http.MethodPost, url, token, body, out)
}

func doPut(t *testing.T, client *http.Client, url, token string, body any) {
	t.Helper()
	doRequest(t, client, http.MethodPut, url, token, body, nil)
}

func doGet(t *testing.T, client *http.Client, url string, out any) {
	t.Helper()
	doRequest(t, client, http.MethodGet, url, "", nil, out)
}

func doRequest(t *testing.T, client *http.Client, method, url, token string, body any, out any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
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
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
