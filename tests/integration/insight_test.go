//go:build integration
// +build integration

// Package integration provides end-to-end tests for the FraudLens insight
// pipeline against a running server:
//
//	Intake → Filters → Debounce → Regeneration → Plots
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The tests expect a FraudLens server reachable at FRAUDLENS_TEST_URL
// (default http://localhost:8080). Every request carries an X-Session-ID
// header; each test uses its own session so runs are isolated.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"
)

type testConfig struct {
	BaseURL string
}

func getTestConfig() testConfig {
	baseURL := os.Getenv("FRAUDLENS_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return testConfig{BaseURL: baseURL}
}

// Wire types matching the FraudLens API contract.

type transaction struct {
	ID               string  `json:"id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency,omitempty"`
	FraudProbability float64 `json:"fraud_probability"`
	IsFraud          int     `json:"is_fraud"`
	Category         string  `json:"category,omitempty"`
	Merchant         string  `json:"merchant,omitempty"`
	FraudReason      string  `json:"fraud_reason,omitempty"`
	Timestamp        string  `json:"timestamp,omitempty"`
}

type recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type breakdownEntry struct {
	Label       string  `json:"label"`
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
	TotalAmount float64 `json:"total_amount"`
}

type intakePayload struct {
	Transactions         []transaction    `json:"transactions"`
	Recommendations      []recommendation `json:"recommendations"`
	FraudReasonBreakdown []breakdownEntry `json:"fraud_reason_breakdown"`
}

type loadRunResponse struct {
	RunID            string `json:"runId"`
	TransactionCount int    `json:"transactionCount"`
}

type statistics struct {
	TotalCount      int     `json:"total_count"`
	FraudCount      int     `json:"fraud_count"`
	FraudPercentage string  `json:"fraud_percentage"`
	TotalAmount     float64 `json:"total_amount"`
}

type plotSet struct {
	RequestID   string `json:"requestId"`
	Fingerprint string `json:"fingerprint"`
	Plots       []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"plots"`
	Message string `json:"message"`
}

type plotsResponse struct {
	State string   `json:"state"`
	Plots *plotSet `json:"plots"`
	Error string   `json:"error"`
}

func do(t *testing.T, config testConfig, sessionID, method, path string, reqBody, respBody any) int {
	t.Helper()

	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Session-ID", sessionID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(data))
		}
	}
	return resp.StatusCode
}

func samplePayload() intakePayload {
	return intakePayload{
		Transactions: []transaction{
			{ID: "t1", Amount: 1200, Currency: "USD", FraudProbability: 0.94, IsFraud: 1, Category: "gambling", Merchant: "Lucky Spin Casino", FraudReason: "Velocity abuse", Timestamp: "2025-06-01T10:00:00Z"},
			{ID: "t2", Amount: 45, Currency: "USD", FraudProbability: 0.04, IsFraud: 0, Category: "grocery", Merchant: "Fresh Mart", Timestamp: "2025-06-02T12:30:00Z"},
			{ID: "t3", Amount: 300, Currency: "USD", FraudProbability: 0.88, IsFraud: 1, Category: "electronics", Merchant: "Gadget World", FraudReason: "Account takeover", Timestamp: "2025-06-03T03:15:00Z"},
			{ID: "t4", Amount: 18, Currency: "USD", FraudProbability: 0.02, IsFraud: 0, Category: "dining", Merchant: "Cafe Aurora", Timestamp: "2025-06-03T19:00:00Z"},
		},
		Recommendations: []recommendation{
			{Title: "Throttle cards showing velocity abuse", Description: "Rapid repeat charges on the same card within minutes."},
			{Title: "Step up verification on account takeover signals", Description: "Logins from new devices followed by high-value purchases."},
		},
		FraudReasonBreakdown: []breakdownEntry{
			{Label: "Velocity abuse", Count: 1, Percentage: 50, TotalAmount: 1200},
			{Label: "Account takeover", Count: 1, Percentage: 50, TotalAmount: 300},
		},
	}
}

// SCENARIO 1: full insight cycle. Load a run, mutate filters past the
// mount guard, and wait for the debounced regeneration to deliver plots.
func TestFilterMutationRegeneratesPlots(t *testing.T) {
	config := getTestConfig()
	sessionID := fmt.Sprintf("it-cycle-%d", time.Now().UnixNano())

	var loaded loadRunResponse
	if code := do(t, config, sessionID, "POST", "/runs", samplePayload(), &loaded); code != http.StatusCreated {
		t.Fatalf("Expected 201 from POST /runs, got %d", code)
	}
	if loaded.TransactionCount != 4 {
		t.Fatalf("Expected 4 transactions loaded, got %d", loaded.TransactionCount)
	}

	// The first mutation after a run load is absorbed by the mount guard.
	time.Sleep(200 * time.Millisecond)
	do(t, config, sessionID, "POST", "/filters", map[string]any{"fraudOnly": true}, nil)
	time.Sleep(200 * time.Millisecond)

	// The second mutation debounces into a real regeneration.
	if code := do(t, config, sessionID, "POST", "/filters", map[string]any{"amountMin": 100.0}, nil); code != http.StatusOK {
		t.Fatalf("Expected 200 from POST /filters, got %d", code)
	}

	deadline := time.Now().Add(15 * time.Second)
	var plots plotsResponse
	for {
		do(t, config, sessionID, "GET", "/plots", nil, &plots)
		if plots.Plots != nil && len(plots.Plots.Plots) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("No plots delivered before deadline, last state %q error %q", plots.State, plots.Error)
		}
		time.Sleep(200 * time.Millisecond)
	}

	if plots.State != "idle" {
		t.Errorf("Expected idle after delivery, got %q", plots.State)
	}
	if plots.Error != "" {
		t.Errorf("Unexpected regeneration error: %s", plots.Error)
	}
}

// SCENARIO 2: derived views follow the filter set.
func TestStatisticsFollowFilters(t *testing.T) {
	config := getTestConfig()
	sessionID := fmt.Sprintf("it-stats-%d", time.Now().UnixNano())

	if code := do(t, config, sessionID, "POST", "/runs", samplePayload(), nil); code != http.StatusCreated {
		t.Fatalf("Expected 201 from POST /runs, got %d", code)
	}

	var unfiltered statistics
	do(t, config, sessionID, "GET", "/statistics", nil, &unfiltered)
	if unfiltered.TotalCount != 4 {
		t.Fatalf("Expected 4 transactions before filtering, got %d", unfiltered.TotalCount)
	}
	if unfiltered.FraudPercentage != "50.00" {
		t.Errorf("Expected fraud percentage 50.00, got %s", unfiltered.FraudPercentage)
	}

	do(t, config, sessionID, "POST", "/filters", map[string]any{"fraudOnly": true}, nil)

	var filtered statistics
	do(t, config, sessionID, "GET", "/statistics", nil, &filtered)
	if filtered.TotalCount != 2 || filtered.FraudCount != 2 {
		t.Errorf("Expected 2 fraud cases after fraudOnly, got total=%d fraud=%d", filtered.TotalCount, filtered.FraudCount)
	}
	if filtered.TotalAmount != 1500 {
		t.Errorf("Expected total amount 1500, got %.2f", filtered.TotalAmount)
	}

	// Reset restores the unfiltered view.
	do(t, config, sessionID, "DELETE", "/filters", nil, nil)
	var reset statistics
	do(t, config, sessionID, "GET", "/statistics", nil, &reset)
	if reset.TotalCount != 4 {
		t.Errorf("Expected all 4 transactions after reset, got %d", reset.TotalCount)
	}
}

// SCENARIO 3: recommendation matching over the loaded run.
func TestRecommendationLookup(t *testing.T) {
	config := getTestConfig()
	sessionID := fmt.Sprintf("it-rec-%d", time.Now().UnixNano())

	if code := do(t, config, sessionID, "POST", "/runs", samplePayload(), nil); code != http.StatusCreated {
		t.Fatalf("Expected 201 from POST /runs, got %d", code)
	}

	var rec recommendation
	path := "/recommendations/" + url.PathEscape("Velocity abuse")
	if code := do(t, config, sessionID, "GET", path, nil, &rec); code != http.StatusOK {
		t.Fatalf("Expected 200 for a matched pattern, got %d", code)
	}
	if rec.Title == "" {
		t.Error("Expected a recommendation body")
	}

	path = "/recommendations/" + url.PathEscape("Cross-border mismatch")
	if code := do(t, config, sessionID, "GET", path, nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unmatched pattern, got %d", code)
	}
}

// SCENARIO 4: a new run replaces the session's analysis state.
func TestRunReplacement(t *testing.T) {
	config := getTestConfig()
	sessionID := fmt.Sprintf("it-replace-%d", time.Now().UnixNano())

	if code := do(t, config, sessionID, "POST", "/runs", samplePayload(), nil); code != http.StatusCreated {
		t.Fatalf("Expected 201 from POST /runs, got %d", code)
	}
	do(t, config, sessionID, "POST", "/filters", map[string]any{"fraudOnly": true}, nil)

	small := intakePayload{
		Transactions: []transaction{
			{ID: "n1", Amount: 10, FraudProbability: 0.01, IsFraud: 0, Category: "dining"},
		},
	}
	if code := do(t, config, sessionID, "POST", "/runs", small, nil); code != http.StatusCreated {
		t.Fatalf("Expected 201 from the replacing POST /runs, got %d", code)
	}

	// Filters reset with the new run.
	var stats statistics
	do(t, config, sessionID, "GET", "/statistics", nil, &stats)
	if stats.TotalCount != 1 {
		t.Errorf("Expected the replacing run's single transaction, got %d", stats.TotalCount)
	}
}
