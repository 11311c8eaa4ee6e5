// Benchmark tool for exercising Kestrel's analysis API.
//
// Usage:
//   go run cmd/benchmark/main.go -gen /tmp/corpus -seed 42
//   go run cmd/kestrel/main.go -serve -data /tmp/corpus
//   go run cmd/benchmark/main.go -url http://localhost:8080 -runs 50
//
// This tool:
//   1. Generates a seeded synthetic corpus as CSV files (-gen mode)
//   2. Fires repeated analysis runs against a running Kestrel instance
//   3. Reports the latency distribution and throughput
//   4. Verifies that every run produced an identical report
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks benchmark results.
type Metrics struct {
	TotalRuns   int64
	TotalErrors int64
	RateLimited int64

	mu           sync.Mutex
	Latencies    []float64 // Milliseconds per successful run
	Envelopes    map[string]struct{}
	HashCounts   map[string]int64 // Report hash -> runs producing it
	Transactions int64
}

type runResult struct {
	envelopeID   string
	reportHash   string
	transactions int64
}

var errRateLimited = errors.New("rate limited (429)")

func main() {
	genDir := flag.String("gen", "", "Generate a synthetic corpus into this directory and exit")
	seed := flag.Int64("seed", 42, "Seed for corpus generation")
	cardHolders := flag.Int("cardholders", 200, "Cardholders to generate")
	merchants := flag.Int("merchants", 50, "Merchants to generate")
	transactions := flag.Int("transactions", 20000, "Transactions to generate")
	days := flag.Int("days", 30, "Days the generated corpus spans")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	runs := flag.Int("runs", 50, "Analysis runs to fire")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	cached := flag.Bool("cached", false, "Repeat one filter to measure the response cache instead of fresh runs")
	verbose := flag.Bool("verbose", false, "Print each run result")
	flag.Parse()

	if *genDir != "" {
		params := genParams{
			seed:         *seed,
			cardHolders:  *cardHolders,
			merchants:    *merchants,
			transactions: *transactions,
			days:         *days,
		}
		if err := generateCorpus(*genDir, params); err != nil {
			fmt.Printf("ERROR: failed to generate corpus: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Wrote corpus to %s (seed %d, %d transactions)\n", *genDir, *seed, *transactions)
		fmt.Println("\nImport and serve it with:")
		fmt.Printf("  go run cmd/kestrel/main.go -serve -data %s\n", *genDir)
		return
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL BENCHMARK - Analysis Throughput             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Runs:        %d\n", *runs)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Cached:      %v\n", *cached)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go -serve")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")
	fmt.Printf("✓ Engine version: %s\n", fetchEngineVersion(*baseURL))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(*baseURL, *runs, *workers, *cached, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
	if len(metrics.HashCounts) > 1 {
		os.Exit(1)
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func fetchEngineVersion(baseURL string) string {
	resp, err := http.Get(baseURL + "/v1/config")
	if err != nil {
		return "unknown"
	}
	defer resp.Body.Close()

	var cfg struct {
		EngineVersion string `json:"engineVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return "unknown"
	}
	return cfg.EngineVersion
}

func runBenchmark(baseURL string, runs, numWorkers int, cached, verbose bool) *Metrics {
	metrics := &Metrics{
		Envelopes:  make(map[string]struct{}),
		HashCounts: make(map[string]int64),
	}

	// Create work channel
	work := make(chan int, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 120 * time.Second}

			for run := range work {
				start := time.Now()
				result, err := analyzeOnce(client, baseURL, filterForRun(run, cached))
				elapsed := float64(time.Since(start).Microseconds()) / 1000.0

				atomic.AddInt64(&metrics.TotalRuns, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if errors.Is(err, errRateLimited) {
						atomic.AddInt64(&metrics.RateLimited, 1)
					}
					if verbose {
						fmt.Printf("✗ run %4d | %v\n", run, err)
					}
					continue
				}

				metrics.record(result, elapsed)

				if verbose {
					fmt.Printf("✓ run %4d | %8.1f ms | envelope %s | report %s\n",
						run, elapsed, result.envelopeID, result.reportHash[:12])
				}
			}
		}()
	}

	// Send work
	for run := 0; run < runs; run++ {
		work <- run
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func (m *Metrics) record(r *runResult, latencyMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Latencies = append(m.Latencies, latencyMs)
	m.Envelopes[r.envelopeID] = struct{}{}
	m.HashCounts[r.reportHash]++
	if m.Transactions == 0 {
		m.Transactions = r.transactions
	}
}

// filterForRun builds the request body for one run. Fresh runs use
// distinct maxAmount caps far above any corpus amount, so every request
// misses the response cache and recomputes while the matched corpus
// stays the same. Cached mode repeats one filter to measure cache hits.
func filterForRun(run int, cached bool) []byte {
	if cached {
		return []byte(`{}`)
	}
	return []byte(fmt.Sprintf(`{"maxAmount":"%d"}`, 1_000_000_000+run))
}

func analyzeOnce(client *http.Client, baseURL string, body []byte) (*runResult, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/analyses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var env struct {
		ID     string          `json:"id"`
		Report json.RawMessage `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}

	var rep struct {
		Corpus struct {
			Transactions int64 `json:"transactions"`
		} `json:"corpus"`
	}
	_ = json.Unmarshal(env.Report, &rep)

	sum := sha256.Sum256(env.Report)
	return &runResult{
		envelopeID:   env.ID,
		reportHash:   hex.EncodeToString(sum[:]),
		transactions: rep.Corpus.Transactions,
	}, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 RUN STATISTICS\n")
	fmt.Printf("   Total Runs:         %d\n", m.TotalRuns)
	fmt.Printf("   Errors:             %d\n", m.TotalErrors)
	if m.RateLimited > 0 {
		fmt.Printf("   Rate Limited:       %d ⚠️\n", m.RateLimited)
	}
	fmt.Printf("   Corpus Size:        %d transactions\n", m.Transactions)
	fmt.Printf("   Distinct Envelopes: %d\n", len(m.Envelopes))

	var p95 float64
	if len(m.Latencies) > 0 {
		sorted := append([]float64(nil), m.Latencies...)
		sort.Float64s(sorted)
		p95 = percentile(sorted, 0.95)

		var total float64
		for _, l := range sorted {
			total += l
		}

		fmt.Printf("\n⏱️  LATENCY\n")
		fmt.Printf("   Min:  %8.1f ms\n", sorted[0])
		fmt.Printf("   p50:  %8.1f ms\n", percentile(sorted, 0.50))
		fmt.Printf("   p95:  %8.1f ms\n", p95)
		fmt.Printf("   p99:  %8.1f ms\n", percentile(sorted, 0.99))
		fmt.Printf("   Max:  %8.1f ms\n", sorted[len(sorted)-1])
		fmt.Printf("   Avg:  %8.1f ms\n", total/float64(len(sorted)))
		fmt.Printf("\n   Total Duration: %v\n", duration.Round(time.Millisecond))
		fmt.Printf("   Throughput:     %.2f runs/sec\n", float64(len(sorted))/duration.Seconds())
	}

	fmt.Printf("\n🔁 DETERMINISM\n")
	switch len(m.HashCounts) {
	case 0:
		fmt.Println("   No successful runs to compare")
	case 1:
		for hash, count := range m.HashCounts {
			fmt.Printf("   ✅ All %d reports hashed to %s\n", count, hash[:16])
		}
	default:
		fmt.Printf("   ❌ %d distinct report hashes - runs disagreed:\n", len(m.HashCounts))
		for hash, count := range m.HashCounts {
			fmt.Printf("      %s x%d\n", hash[:16], count)
		}
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if len(m.HashCounts) == 1 {
		fmt.Println("   ✅ Deterministic - identical corpus slices produced identical reports")
	} else if len(m.HashCounts) > 1 {
		fmt.Println("   ❌ Non-deterministic - check iteration order in the analyzers")
	}
	if len(m.Latencies) > 0 {
		if p95 < 250 {
			fmt.Println("   ✅ Fast - p95 under 250ms")
		} else if p95 < 2000 {
			fmt.Println("   ⚠️  Acceptable - p95 under 2s, watch corpus growth")
		} else {
			fmt.Println("   ❌ Slow - p95 over 2s, consider narrowing filters")
		}
	}
	if m.RateLimited > 0 {
		fmt.Println("   ⚠️  Some runs hit the API rate limit - lower -runs or -workers")
	}

	fmt.Println()
}

// percentile reads from an already sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(p*float64(len(sorted)-1))]
}

// Corpus generation parameters.
type genParams struct {
	seed         int64
	cardHolders  int
	merchants    int
	transactions int
	days         int
}

// generateCorpus writes a reproducible synthetic corpus in the import
// format. The same seed produces the same files, so benchmark runs on
// different machines can compare report hashes.
func generateCorpus(dir string, p genParams) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(p.seed))

	// Fixed anchor keeps generated corpora reproducible
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -p.days)
	span := end.Sub(start)

	categories := []struct{ id, name string }{
		{"cat-grocery", "Grocery"},
		{"cat-fuel", "Fuel"},
		{"cat-dining", "Dining"},
		{"cat-electronics", "Electronics"},
		{"cat-travel", "Travel"},
		{"cat-pharmacy", "Pharmacy"},
		{"cat-entertainment", "Entertainment"},
		{"cat-online", "Online Services"},
	}
	catRows := [][]string{{"id", "name"}}
	for _, c := range categories {
		catRows = append(catRows, []string{c.id, c.name})
	}
	if err := writeCSV(filepath.Join(dir, "merchant_categories.csv"), catRows); err != nil {
		return err
	}

	holderRows := [][]string{{"id", "name", "email"}}
	for i := 0; i < p.cardHolders; i++ {
		id := fmt.Sprintf("holder-%04d", i)
		holderRows = append(holderRows, []string{id, fmt.Sprintf("Holder %04d", i), id + "@example.com"})
	}
	if err := writeCSV(filepath.Join(dir, "card_holders.csv"), holderRows); err != nil {
		return err
	}

	merchantRows := [][]string{{"id", "name", "category_id"}}
	merchantIDs := make([]string, 0, p.merchants)
	for i := 0; i < p.merchants; i++ {
		id := fmt.Sprintf("merch-%04d", i)
		merchantRows = append(merchantRows, []string{id, fmt.Sprintf("Merchant %04d", i), categories[rng.Intn(len(categories))].id})
		merchantIDs = append(merchantIDs, id)
	}
	if err := writeCSV(filepath.Join(dir, "merchants.csv"), merchantRows); err != nil {
		return err
	}

	cardRows := [][]string{{"id", "card_holder_id", "card_number"}}
	var cardIDs []string
	for i := 0; i < p.cardHolders; i++ {
		holderID := fmt.Sprintf("holder-%04d", i)
		for c := 0; c < 1+rng.Intn(2); c++ {
			id := fmt.Sprintf("card-%04d-%d", i, c)
			number := fmt.Sprintf("4%015d", rng.Int63n(1_000_000_000_000_000))
			cardRows = append(cardRows, []string{id, holderID, number})
			cardIDs = append(cardIDs, id)
		}
	}
	if err := writeCSV(filepath.Join(dir, "credit_cards.csv"), cardRows); err != nil {
		return err
	}

	txRows := [][]string{{"id", "card_id", "merchant_id", "amount", "timestamp"}}
	seq := 0
	addTx := func(ts time.Time, card, merchant, amount string) {
		txRows = append(txRows, []string{fmt.Sprintf("tx-%07d", seq), card, merchant, amount, ts.UTC().Format(time.RFC3339)})
		seq++
	}

	// Baseline traffic: everyday amounts with a thin tail of large ones
	for i := 0; i < p.transactions; i++ {
		ts := start.Add(time.Duration(rng.Int63n(int64(span))))
		amount := 5 + rng.Float64()*120
		if rng.Float64() < 0.01 {
			amount *= 40
		}
		addTx(ts, cardIDs[rng.Intn(len(cardIDs))], merchantIDs[rng.Intn(len(merchantIDs))], fmt.Sprintf("%.2f", amount))
	}

	// Card testing: a few cards probing one merchant with sub-dollar charges
	for i := 0; i < 3; i++ {
		card := cardIDs[rng.Intn(len(cardIDs))]
		merchant := merchantIDs[rng.Intn(len(merchantIDs))]
		base := start.Add(time.Duration(rng.Int63n(int64(span))))
		for j := 0; j < 15; j++ {
			addTx(base.Add(time.Duration(j)*90*time.Second), card, merchant, fmt.Sprintf("0.%02d", 10+rng.Intn(89)))
		}
	}

	// A burst: one card charged many times inside two minutes
	burstCard := cardIDs[rng.Intn(len(cardIDs))]
	burstBase := start.Add(span / 2)
	for j := 0; j < 8; j++ {
		addTx(burstBase.Add(time.Duration(j)*15*time.Second), burstCard, merchantIDs[rng.Intn(len(merchantIDs))], fmt.Sprintf("%.2f", 20+rng.Float64()*60))
	}

	// Early-morning high-value charges
	for j := 0; j < 5; j++ {
		day := start.AddDate(0, 0, rng.Intn(p.days))
		ts := time.Date(day.Year(), day.Month(), day.Day(), 7+rng.Intn(2), rng.Intn(60), rng.Intn(60), 0, time.UTC)
		addTx(ts, cardIDs[rng.Intn(len(cardIDs))], merchantIDs[rng.Intn(len(merchantIDs))], fmt.Sprintf("%.2f", 900+rng.Float64()*800))
	}

	return writeCSV(filepath.Join(dir, "transactions.csv"), txRows)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
