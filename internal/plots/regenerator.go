// Package plots provides plot regeneration backends: an HTTP client for
// the external plot service and a local generator used when no service
// is configured.
package plots

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fraudlens/fraudlens/internal/domain"
)

// HTTPRegenerator calls the external plot rendering service. The service
// receives the filtered transaction set and answers with rendered plot
// specs.
type HTTPRegenerator struct {
	url    string
	client *http.Client
}

// NewHTTPRegenerator creates a regenerator targeting the given endpoint.
func NewHTTPRegenerator(url string, timeout time.Duration) *HTTPRegenerator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRegenerator{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// regenResponse is the plot service's wire format.
type regenResponse struct {
	Success bool          `json:"success"`
	Plots   []domain.Plot `json:"plots,omitempty"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Regenerate posts the request to the plot service. A response with
// success=false surfaces as an error without retry.
func (r *HTTPRegenerator) Regenerate(ctx context.Context, req *domain.RegenerationRequest) (*domain.PlotSet, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal regeneration request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("plot service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("plot service returned %d: %s", resp.StatusCode, data)
	}

	var out regenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode plot service response: %w", err)
	}

	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "plot service reported failure"
		}
		return nil, fmt.Errorf("%s", msg)
	}

	return &domain.PlotSet{
		RequestID:   req.ID,
		RunID:       req.RunID,
		SessionID:   req.SessionID,
		Fingerprint: req.Fingerprint,
		Plots:       out.Plots,
		Message:     out.Message,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// LocalRegenerator derives basic plot specs directly from the filtered
// set. Used in Community tier deployments without a plot service.
type LocalRegenerator struct{}

// NewLocalRegenerator creates a local plot generator.
func NewLocalRegenerator() *LocalRegenerator {
	return &LocalRegenerator{}
}

// amountBuckets are the histogram boundaries for the amount plot.
var amountBuckets = []float64{10, 50, 100, 500, 1000, 5000, 10000}

// Regenerate builds an amount histogram, a fraud probability
// distribution, and per-category fraud counts.
func (r *LocalRegenerator) Regenerate(ctx context.Context, req *domain.RegenerationRequest) (*domain.PlotSet, error) {
	ps := &domain.PlotSet{
		RequestID:   req.ID,
		RunID:       req.RunID,
		SessionID:   req.SessionID,
		Fingerprint: req.Fingerprint,
		GeneratedAt: time.Now().UTC(),
	}

	if len(req.Transactions) == 0 {
		ps.Message = "no transactions matched the current filters"
		return ps, nil
	}

	ps.Plots = []domain.Plot{
		amountHistogram(req.Transactions),
		probabilityDistribution(req.Transactions),
		categoryFraudCounts(req.Transactions),
	}
	return ps, nil
}

func amountHistogram(txs []domain.Transaction) domain.Plot {
	counts := make([]int, len(amountBuckets)+1)
	for i := range txs {
		counts[bucketFor(txs[i].Amount)]++
	}

	spec, _ := json.Marshal(map[string]any{
		"buckets": amountBuckets,
		"counts":  counts,
	})
	return domain.Plot{
		ID:    "amount-histogram",
		Title: "Transaction amounts",
		Kind:  "histogram",
		Spec:  spec,
	}
}

func bucketFor(amount float64) int {
	for i, bound := range amountBuckets {
		if amount < bound {
			return i
		}
	}
	return len(amountBuckets)
}

func probabilityDistribution(txs []domain.Transaction) domain.Plot {
	// Ten equal-width bins over [0,1]
	counts := make([]int, 10)
	for i := range txs {
		bin := int(txs[i].FraudProbability * 10)
		if bin > 9 {
			bin = 9
		}
		if bin < 0 {
			bin = 0
		}
		counts[bin]++
	}

	spec, _ := json.Marshal(map[string]any{
		"bin_width": 0.1,
		"counts":    counts,
	})
	return domain.Plot{
		ID:    "fraud-probability",
		Title: "Fraud probability distribution",
		Kind:  "histogram",
		Spec:  spec,
	}
}

func categoryFraudCounts(txs []domain.Transaction) domain.Plot {
	type catCount struct {
		Fraud      int `json:"fraud"`
		Legitimate int `json:"legitimate"`
	}

	byCategory := make(map[string]*catCount)
	for i := range txs {
		cat := txs[i].Category
		if cat == "" {
			cat = "uncategorized"
		}
		c, ok := byCategory[cat]
		if !ok {
			c = &catCount{}
			byCategory[cat] = c
		}
		if txs[i].IsFraud == 1 {
			c.Fraud++
		} else {
			c.Legitimate++
		}
	}

	spec, _ := json.Marshal(map[string]any{
		"categories": byCategory,
	})
	return domain.Plot{
		ID:    "category-fraud",
		Title: "Fraud by category",
		Kind:  "bar",
		Spec:  spec,
	}
}
