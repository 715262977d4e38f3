// Benchmark tool for driving FraudLens with synthetic analysis runs.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -transactions 50000
//
// This tool:
//  1. Generates a synthetic scored transaction set with fraud labels
//  2. Loads it as an analysis run
//  3. Fires bursts of filter mutations and times the derived views
//  4. Reports throughput and latency percentiles
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"time"
)

// Transaction mirrors the API's transaction shape.
type Transaction struct {
	ID               string  `json:"id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	FraudProbability float64 `json:"fraud_probability"`
	IsFraud          int     `json:"is_fraud"`
	Category         string  `json:"category"`
	Merchant         string  `json:"merchant"`
	FraudReason      string  `json:"fraud_reason,omitempty"`
	Timestamp        string  `json:"timestamp"`
}

// Recommendation mirrors the API's recommendation shape.
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// BreakdownEntry mirrors the API's breakdown shape.
type BreakdownEntry struct {
	Label       string  `json:"label"`
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
	TotalAmount float64 `json:"total_amount"`
}

var categories = []string{"gambling", "grocery", "electronics", "travel", "fuel", "dining"}
var merchants = []string{"Acme Corp", "Globex", "Initech", "Umbrella Retail", "Stark Goods"}
var patterns = []string{
	"Velocity abuse",
	"Card-not-present risk",
	"Account takeover",
	"Night-time activity",
	"Cross-border mismatch",
	"High-value outlier",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "FraudLens base URL")
	sessionID := flag.String("session", "benchmark-session", "Session ID for requests")
	txCount := flag.Int("transactions", 50000, "Synthetic transactions per run")
	mutations := flag.Int("mutations", 200, "Filter mutations to fire")
	seed := flag.Int64("seed", 42, "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	client := &http.Client{Timeout: 60 * time.Second}

	fmt.Printf("Generating %d synthetic transactions...\n", *txCount)
	payload := generateRun(rng, *txCount)

	start := time.Now()
	if err := post(client, *baseURL+"/runs", *sessionID, payload, nil); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load run: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Run loaded in %s\n", time.Since(start).Round(time.Millisecond))

	fmt.Printf("Firing %d filter mutations...\n", *mutations)
	var latencies []time.Duration
	for i := 0; i < *mutations; i++ {
		update := randomUpdate(rng)

		mutStart := time.Now()
		if err := post(client, *baseURL+"/filters", *sessionID, update, nil); err != nil {
			fmt.Fprintf(os.Stderr, "mutation %d failed: %v\n", i, err)
			continue
		}
		if err := get(client, *baseURL+"/statistics", *sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "statistics %d failed: %v\n", i, err)
			continue
		}
		latencies = append(latencies, time.Since(mutStart))
	}

	report(latencies, *mutations)
}

func generateRun(rng *rand.Rand, n int) map[string]any {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	transactions := make([]Transaction, n)
	patternCounts := make(map[string]int)
	patternAmounts := make(map[string]float64)
	fraudTotal := 0

	for i := range transactions {
		prob := rng.Float64()
		isFraud := 0
		reason := ""
		if prob > 0.85 {
			isFraud = 1
			reason = patterns[rng.Intn(len(patterns))]
			fraudTotal++
		}

		amount := rng.Float64() * 5000
		transactions[i] = Transaction{
			ID:               fmt.Sprintf("tx-%06d", i),
			Amount:           amount,
			Currency:         "USD",
			FraudProbability: prob,
			IsFraud:          isFraud,
			Category:         categories[rng.Intn(len(categories))],
			Merchant:         merchants[rng.Intn(len(merchants))],
			FraudReason:      reason,
			Timestamp:        base.Add(time.Duration(rng.Intn(90*24)) * time.Hour).Format(time.RFC3339),
		}
		if isFraud == 1 {
			patternCounts[reason]++
			patternAmounts[reason] += amount
		}
	}

	var breakdown []BreakdownEntry
	for label, count := range patternCounts {
		pct := 0.0
		if fraudTotal > 0 {
			pct = float64(count) / float64(fraudTotal) * 100
		}
		breakdown = append(breakdown, BreakdownEntry{
			Label:       label,
			Count:       count,
			Percentage:  pct,
			TotalAmount: patternAmounts[label],
		})
	}

	recommendations := make([]Recommendation, 0, len(patterns))
	for _, p := range patterns {
		recommendations = append(recommendations, Recommendation{
			Title:       p + " mitigation",
			Description: "Synthetic remediation guidance for " + p,
		})
	}

	return map[string]any{
		"transactions":           transactions,
		"recommendations":        recommendations,
		"fraud_reason_breakdown": breakdown,
	}
}

func randomUpdate(rng *rand.Rand) map[string]any {
	switch rng.Intn(4) {
	case 0:
		min := rng.Float64() * 1000
		return map[string]any{"amountMin": min, "amountMax": min + rng.Float64()*3000}
	case 1:
		return map[string]any{"fraudProbabilityMin": rng.Float64() * 0.9}
	case 2:
		return map[string]any{"category": categories[rng.Intn(len(categories))]}
	default:
		return map[string]any{"fraudOnly": rng.Intn(2) == 1}
	}
}

func post(client *http.Client, url, sessionID string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func get(client *http.Client, url, sessionID string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}

func report(latencies []time.Duration, attempted int) {
	fmt.Println()
	fmt.Println("=== Benchmark Results ===")
	fmt.Printf("Mutations attempted: %d\n", attempted)
	fmt.Printf("Mutations succeeded: %d\n", len(latencies))

	if len(latencies) == 0 {
		return
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var total time.Duration
	for _, l := range latencies {
		total += l
	}

	fmt.Printf("Mean latency:        %s\n", (total / time.Duration(len(latencies))).Round(time.Microsecond))
	fmt.Printf("p50 latency:         %s\n", latencies[len(latencies)/2].Round(time.Microsecond))
	fmt.Printf("p95 latency:         %s\n", latencies[len(latencies)*95/100].Round(time.Microsecond))
	fmt.Printf("p99 latency:         %s\n", latencies[len(latencies)*99/100].Round(time.Microsecond))
}
