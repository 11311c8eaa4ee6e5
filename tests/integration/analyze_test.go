//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel fraud analytics engine.
//
// These tests verify the COMPLETE analysis pipeline:
//
//	Corpus → Statistics → Outliers/Velocity/Patterns → Risk Scores → Report
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. CORPUS: The set of card transactions under analysis, loaded from
//    CSV files into the repository, optionally narrowed by a filter.
//
// 2. ANALYSIS RUN: One pass over the corpus. Computes distribution
//    statistics, flags amount outliers (z-score and IQR), rapid
//    sequences and bursts, early-morning activity, and small-amount
//    card testing, then aggregates weighted risk per transaction.
//
// 3. REPORT: The JSON document a run renders, wrapped in an envelope
//    carrying the run ID, generation time, engine version, and the
//    echoed filter.
//
// 4. DETERMINISM: The same corpus, configuration, and filter must
//    produce an identical report, whatever order workers finish in.
//
// REQUIRED CORPUS (must be imported before running tests):
//
//	go run cmd/benchmark/main.go -gen /tmp/kestrel-corpus -seed 42
//	go run cmd/kestrel/main.go -serve -data /tmp/kestrel-corpus
//
// The seeded corpus plants high-value outliers, sub-dollar card
// testing, a transaction burst, and early-morning charges, so every
// analyzer has something to find.
package integration

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Response Types (matching Kestrel's API contract)
// ============================================================================

// AnalysisEnvelope is what POST /v1/analyses returns
type AnalysisEnvelope struct {
	ID            string          `json:"id"`
	GeneratedAt   time.Time       `json:"generatedAt"`
	EngineVersion string          `json:"engineVersion"`
	Filter        map[string]any  `json:"filter"`
	Report        json.RawMessage `json:"report"`
}

// AnalysisReport mirrors the report fields these tests inspect
type AnalysisReport struct {
	Corpus struct {
		Transactions      int    `json:"transactions"`
		UniqueCards       int    `json:"uniqueCards"`
		UniqueCardHolders int    `json:"uniqueCardHolders"`
		UniqueMerchants   int    `json:"uniqueMerchants"`
		TotalVolume       string `json:"totalVolume"`
		MinAmount         string `json:"minAmount"`
		MaxAmount         string `json:"maxAmount"`
	} `json:"corpus"`
	TopOutliers         []json.RawMessage `json:"topOutliers"`
	RapidSequences      []json.RawMessage `json:"rapidSequences"`
	Bursts              []json.RawMessage `json:"bursts"`
	EarlyMorning        []json.RawMessage `json:"earlyMorning"`
	SmallTransactions   []json.RawMessage `json:"smallTransactions"`
	CardTestingSuspects []json.RawMessage `json:"cardTestingSuspects"`
	TopRiskTransactions []json.RawMessage `json:"topRiskTransactions"`
	Severities          struct {
		Low      int `json:"low"`
		Medium   int `json:"medium"`
		High     int `json:"high"`
		Critical int `json:"critical"`
	} `json:"severities"`
	Assessment struct {
		HighRiskCards         int `json:"highRiskCards"`
		ExtremeOutliers       int `json:"extremeOutliers"`
		EarlyMorningHighValue int `json:"earlyMorningHighValue"`
		ImmediateAttention    int `json:"immediateAttention"`
	} `json:"assessment"`
	Recommendations []string `json:"recommendations"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func analyze(t *testing.T, config TestConfig, filter string) AnalysisEnvelope {
	t.Helper()

	resp, body := post(t, config, filter)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(body))
	}

	var env AnalysisEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("Failed to unmarshal envelope: %v (body: %s)", err, string(body))
	}
	return env
}

func post(t *testing.T, config TestConfig, filter string) (*http.Response, []byte) {
	t.Helper()

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/v1/analyses", bytes.NewReader([]byte(filter)))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, body
}

func decodeReport(t *testing.T, env AnalysisEnvelope) AnalysisReport {
	t.Helper()

	var rep AnalysisReport
	if err := json.Unmarshal(env.Report, &rep); err != nil {
		t.Fatalf("Failed to unmarshal report: %v", err)
	}
	return rep
}

// ============================================================================
// SCENARIO 1: Full Corpus Analysis
// ============================================================================

func TestFullCorpusAnalysis(t *testing.T) {
	/*
	   SCENARIO: Analyze the whole imported corpus with an empty filter

	   EXPECTED BEHAVIOR:
	   - Every analyzer finds the patterns the seeded corpus plants:
	     high-value outliers, sub-dollar card testing, a burst, and
	     early-morning charges
	   - The report carries corpus statistics and recommendations
	*/
	config := getTestConfig()

	env := analyze(t, config, `{}`)
	rep := decodeReport(t, env)

	if rep.Corpus.Transactions < 1000 {
		t.Errorf("Expected a corpus of at least 1000 transactions, got %d (was it imported?)", rep.Corpus.Transactions)
	}
	if rep.Corpus.UniqueCards == 0 || rep.Corpus.UniqueCardHolders == 0 || rep.Corpus.UniqueMerchants == 0 {
		t.Errorf("Expected non-zero corpus dimensions, got cards=%d holders=%d merchants=%d",
			rep.Corpus.UniqueCards, rep.Corpus.UniqueCardHolders, rep.Corpus.UniqueMerchants)
	}

	if len(rep.TopOutliers) == 0 {
		t.Error("Expected outlier findings from the planted high-value charges")
	}
	if len(rep.CardTestingSuspects) == 0 {
		t.Error("Expected card-testing suspects from the planted sub-dollar probes")
	}
	if len(rep.RapidSequences) == 0 {
		t.Error("Expected rapid sequences from the planted burst")
	}
	if len(rep.Bursts) == 0 {
		t.Error("Expected burst findings from the planted burst")
	}
	if len(rep.EarlyMorning) == 0 {
		t.Error("Expected early-morning findings")
	}
	if len(rep.Recommendations) == 0 {
		t.Error("Expected at least one recommendation")
	}

	t.Logf("✓ Full corpus analyzed: %d transactions, %d outliers, %d suspects, %d recommendations",
		rep.Corpus.Transactions, len(rep.TopOutliers), len(rep.CardTestingSuspects), len(rep.Recommendations))
}

// ============================================================================
// SCENARIO 2: Determinism Across Fresh Runs
// ============================================================================

func TestAnalysisDeterminism(t *testing.T) {
	/*
	   SCENARIO: Two runs over the same corpus slice must agree byte for byte

	   HOW THIS WORKS:
	   - The two filters carry distinct maxAmount caps far above any
	     corpus amount, so each request misses the response cache and
	     recomputes, while both match the identical corpus
	   - Envelope IDs differ (two fresh runs); the report inside must not

	   WHY THIS MATTERS:
	   Analyzers fan out across workers. If any of them leaked map
	   iteration order into the report, these hashes would diverge.
	*/
	config := getTestConfig()

	first := analyze(t, config, `{"maxAmount":"2000000001"}`)
	second := analyze(t, config, `{"maxAmount":"2000000002"}`)

	if first.ID == second.ID {
		t.Errorf("Expected distinct envelope IDs for fresh runs, both were %s", first.ID)
	}

	firstHash := sha256.Sum256(first.Report)
	secondHash := sha256.Sum256(second.Report)
	if firstHash != secondHash {
		t.Errorf("Expected identical reports from identical corpus slices, hashes differ")
	}

	t.Logf("✓ Determinism holds: envelopes %s and %s carry identical reports", first.ID[:8], second.ID[:8])
}

// ============================================================================
// SCENARIO 3: Response Cache
// ============================================================================

func TestCachedRepeat(t *testing.T) {
	/*
	   SCENARIO: Repeating the same filter serves the stored envelope

	   EXPECTED BEHAVIOR:
	   - The second POST returns the same envelope ID as the first
	   - The raw bodies are byte-identical, generation time included
	*/
	config := getTestConfig()

	_, firstBody := post(t, config, `{"minAmount":"0.01"}`)
	_, secondBody := post(t, config, `{"minAmount":"0.01"}`)

	if !bytes.Equal(firstBody, secondBody) {
		t.Error("Expected byte-identical responses for a repeated filter")
	}

	t.Logf("✓ Cached repeat served %d identical bytes", len(firstBody))
}

func TestGetAnalysisByID(t *testing.T) {
	/*
	   SCENARIO: A rendered analysis is retrievable by its envelope ID
	*/
	config := getTestConfig()

	env := analyze(t, config, `{"maxAmount":"2000000003"}`)

	resp, err := http.Get(config.BaseURL + "/v1/analyses/" + env.ID)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 fetching analysis %s, got %d", env.ID, resp.StatusCode)
	}

	var fetched AnalysisEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("Failed to decode fetched envelope: %v", err)
	}
	if fetched.ID != env.ID {
		t.Errorf("Expected envelope %s, got %s", env.ID, fetched.ID)
	}

	missing, err := http.Get(config.BaseURL + "/v1/analyses/no-such-analysis")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown analysis, got %d", missing.StatusCode)
	}

	t.Logf("✓ Analysis %s retrievable by ID", env.ID[:8])
}

// ============================================================================
// SCENARIO 4: Filter Narrowing
// ============================================================================

func TestFilterNarrowing(t *testing.T) {
	/*
	   SCENARIO: A minAmount filter shrinks the corpus and moves its floor

	   EXPECTED BEHAVIOR:
	   - Fewer transactions than the unfiltered run
	   - The filtered corpus minimum is at or above the cutoff
	*/
	config := getTestConfig()

	full := decodeReport(t, analyze(t, config, `{}`))
	filtered := decodeReport(t, analyze(t, config, `{"minAmount":"50.00"}`))

	if filtered.Corpus.Transactions >= full.Corpus.Transactions {
		t.Errorf("Expected the filter to drop transactions, got %d of %d",
			filtered.Corpus.Transactions, full.Corpus.Transactions)
	}

	min, err := strconv.ParseFloat(filtered.Corpus.MinAmount, 64)
	if err != nil {
		t.Fatalf("Failed to parse corpus minAmount %q: %v", filtered.Corpus.MinAmount, err)
	}
	if min < 50 {
		t.Errorf("Expected corpus minimum >= 50.00 under the filter, got %s", filtered.Corpus.MinAmount)
	}

	t.Logf("✓ Filter narrowed corpus from %d to %d transactions, floor %s",
		full.Corpus.Transactions, filtered.Corpus.Transactions, filtered.Corpus.MinAmount)
}

// ============================================================================
// SCENARIO 5: Error Taxonomy
// ============================================================================

func TestInsufficientData(t *testing.T) {
	/*
	   SCENARIO: A filter matching nothing cannot support statistics

	   EXPECTED: HTTP 422 naming the shortfall, not a 500
	*/
	config := getTestConfig()

	resp, body := post(t, config, `{"minAmount":"99999999.00"}`)

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 for an empty corpus slice, got %d: %s", resp.StatusCode, string(body))
	}
	if !strings.Contains(string(body), "insufficient data") {
		t.Errorf("Expected the error to name insufficient data, got %s", string(body))
	}

	t.Logf("✓ Empty slice rejected: %s", strings.TrimSpace(string(body)))
}

func TestInvalidRequestBody(t *testing.T) {
	/*
	   SCENARIO: Malformed JSON in the request body

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	resp, body := post(t, config, `not-json`)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Malformed body rejected with HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 6: Envelope Metadata
// ============================================================================

func TestEnvelopeMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify the envelope carries the full API contract

	   This ensures downstream consumers can rely on run identity,
	   generation time, engine version, and the echoed filter.
	*/
	config := getTestConfig()

	env := analyze(t, config, `{"maxAmount":"2000000004"}`)

	if env.ID == "" {
		t.Error("Missing envelope id")
	}
	if env.GeneratedAt.IsZero() {
		t.Error("Missing generatedAt")
	}
	if env.EngineVersion == "" {
		t.Error("Missing engineVersion")
	}
	if got := env.Filter["maxAmount"]; got != "2000000004" {
		t.Errorf("Expected the filter echoed back, got maxAmount=%v", got)
	}

	// The envelope version must match what the server reports
	resp, err := http.Get(config.BaseURL + "/v1/config")
	if err != nil {
		t.Fatalf("GET /v1/config failed: %v", err)
	}
	defer resp.Body.Close()

	var cfg struct {
		EngineVersion string `json:"engineVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if cfg.EngineVersion != env.EngineVersion {
		t.Errorf("Engine version mismatch: envelope %s, config %s", env.EngineVersion, cfg.EngineVersion)
	}

	t.Logf("✓ Envelope complete: id=%s, engine=%s, generatedAt=%s",
		env.ID[:8], env.EngineVersion, env.GeneratedAt.Format(time.RFC3339))
}

// ============================================================================
// SCENARIO 7: Health
// ============================================================================

func TestHealthEndpoint(t *testing.T) {
	config := getTestConfig()

	resp, err := http.Get(config.BaseURL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from /health, got %d", resp.StatusCode)
	}

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", health.Status)
	}

	t.Logf("✓ Healthy: version=%s", health.Version)
}
