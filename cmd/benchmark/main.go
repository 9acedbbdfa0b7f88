// Benchmark tool for replaying labelled PaySim data through Sentra.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// This tool:
//  1. Reads PaySim transaction data (with fraud labels)
//  2. Sends each transaction to POST /decide
//  3. Compares the isFraud verdict with the label
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// PaySimTransaction represents a row from the PaySim dataset
type PaySimTransaction struct {
	Row            int
	Step           int
	Type           string
	Amount         decimal.Decimal
	NameOrig       string
	OldBalanceOrg  float64
	NewBalanceOrig float64
	NameDest       string
	IsFraud        bool
}

// DecideRequest is the subset of the /decide body the benchmark fills in.
type DecideRequest struct {
	TransactionID string          `json:"transactionId"`
	CustomerID    string          `json:"customerId"`
	MerchantID    string          `json:"merchantId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Type          string          `json:"transactionType,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
}

// DecideResponse is the subset of the /decide response the benchmark reads.
type DecideResponse struct {
	Decision struct {
		RiskScore     float64  `json:"riskScore"`
		IsFraud       bool     `json:"isFraud"`
		ShouldBlock   bool     `json:"shouldBlock"`
		Degraded      bool     `json:"degraded"`
		ViolatedRules []string `json:"violatedRules"`
	} `json:"decision"`
	Status string `json:"status"`
}

// errRateLimited marks a 429 from the admission controller.
var errRateLimited = errors.New("rate limited")

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud decided as fraud
	FalsePositives int64 // Non-fraud decided as fraud
	TrueNegatives  int64 // Non-fraud decided as legitimate
	FalseNegatives int64 // Fraud decided as legitimate (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalBlocked   int64
	TotalDegraded  int64
	TotalLimited   int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Sentra base URL")
	clientID := flag.String("client", "benchmark", "X-Client-ID sent with every request")
	currency := flag.String("currency", "XOF", "Currency for replayed amounts")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          SENTRA BENCHMARK - PaySim Fraud Detection            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Sentra URL:  %s\n", *baseURL)
	fmt.Printf("Client ID:   %s\n", *clientID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Client-ID", *clientID)

	// Check Sentra is running
	if err := checkHealth(client); err != nil {
		fmt.Printf("ERROR: Sentra not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Sentra is running:")
		fmt.Println("  go run ./cmd/sentra")
		os.Exit(1)
	}
	fmt.Println("✓ Sentra is healthy")

	// Read PaySim data
	fmt.Printf("\nReading PaySim data from %s...\n", *csvPath)
	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	transactions, err := readPaySimCSV(file, *limit, *fraudOnly, *sampleRate)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("ERROR: no transactions selected")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	// Count fraud vs non-fraud
	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(client, transactions, *currency, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(client *resty.Client) error {
	resp, err := client.R().Get("/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode())
	}
	return nil
}

func readPaySimCSV(r io.Reader, limit int, fraudOnly bool, sampleRate float64) ([]PaySimTransaction, error) {
	reader := csv.NewReader(r)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"step", "type", "amount", "nameorig", "namedest", "isfraud"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	field := func(record []string, col string) string {
		if i, ok := colIndex[col]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	var transactions []PaySimTransaction
	sampleCounter := 0
	row := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := field(record, "isfraud") == "1"

		// Apply filters
		if fraudOnly && !isFraud {
			continue
		}

		// Sample non-fraud transactions
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		amount, err := decimal.NewFromString(field(record, "amount"))
		if err != nil || !amount.IsPositive() {
			continue
		}
		step, _ := strconv.Atoi(field(record, "step"))
		oldBalanceOrg, _ := strconv.ParseFloat(field(record, "oldbalanceorg"), 64)
		newBalanceOrig, _ := strconv.ParseFloat(field(record, "newbalanceorig"), 64)

		transactions = append(transactions, PaySimTransaction{
			Row:            row,
			Step:           step,
			Type:           strings.ToLower(field(record, "type")),
			Amount:         amount,
			NameOrig:       field(record, "nameorig"),
			OldBalanceOrg:  oldBalanceOrg,
			NewBalanceOrig: newBalanceOrig,
			NameDest:       field(record, "namedest"),
			IsFraud:        isFraud,
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// toRequest maps a PaySim row onto a Sentra transaction. PaySim steps are
// hours from the start of the simulation.
func toRequest(tx PaySimTransaction, currency string) DecideRequest {
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return DecideRequest{
		TransactionID: fmt.Sprintf("paysim-%d", tx.Row),
		CustomerID:    tx.NameOrig,
		MerchantID:    tx.NameDest,
		Amount:        tx.Amount,
		Currency:      currency,
		Type:          tx.Type,
		Timestamp:     epoch.Add(time.Duration(tx.Step) * time.Hour).Format(time.RFC3339),
	}
}

func runBenchmark(client *resty.Client, transactions []PaySimTransaction, currency string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan PaySimTransaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for tx := range work {
				start := time.Now()
				result, err := decideTransaction(client, toRequest(tx, currency))
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					if errors.Is(err, errRateLimited) {
						atomic.AddInt64(&metrics.TotalLimited, 1)
					} else {
						atomic.AddInt64(&metrics.TotalErrors, 1)
					}
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.NameOrig, err)
					}
					continue
				}

				metrics.record(tx.IsFraud, result)

				if verbose {
					status := "✓"
					if result.Decision.IsFraud != tx.IsFraud {
						status = "✗"
					}
					name := tx.NameOrig
					if len(name) > 10 {
						name = name[:10]
					}
					fmt.Printf("%s %-10s | Type: %-8s | Amount: %14s | Fraud: %-5v | Sentra: %-8s (%.2f) | Drain: %v\n",
						status,
						name,
						tx.Type,
						tx.Amount.StringFixed(2),
						tx.IsFraud,
						result.Status,
						result.Decision.RiskScore,
						tx.NewBalanceOrig == 0 && tx.OldBalanceOrg > 0,
					)
				}
			}
		}()
	}

	// Send work
	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

// record adds one labelled verdict to the confusion matrix.
func (m *Metrics) record(actual bool, result *DecideResponse) {
	if actual {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalNonFraud, 1)
	}
	if result.Decision.ShouldBlock {
		atomic.AddInt64(&m.TotalBlocked, 1)
	}
	if result.Decision.Degraded {
		atomic.AddInt64(&m.TotalDegraded, 1)
	}

	predicted := result.Decision.IsFraud
	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func decideTransaction(client *resty.Client, req DecideRequest) (*DecideResponse, error) {
	var result DecideResponse
	resp, err := client.R().
		SetBody(req).
		SetResult(&result).
		Post("/decide")
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return &result, nil
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w (retry after %ss)", errRateLimited, resp.Header().Get("Retry-After"))
	default:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
}

// Scores holds the derived detection metrics.
type Scores struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
}

// Scores derives precision, recall, F1 and accuracy from the matrix.
func (m *Metrics) Scores() Scores {
	var s Scores
	if m.TruePositives+m.FalsePositives > 0 {
		s.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		s.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * (s.Precision * s.Recall) / (s.Precision + s.Recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		s.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return s
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Blocked:          %d\n", m.TotalBlocked)
	fmt.Printf("   Degraded:         %d\n", m.TotalDegraded)
	fmt.Printf("   Rate Limited:     %d\n", m.TotalLimited)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD       LEGIT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	s := m.Scores()
	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged, how many were actual fraud)\n", s.Precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", s.F1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", s.Accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}
	if m.TotalLimited > 0 {
		fmt.Println("   Some requests were rate limited; raise admission limits or lower -workers.")
	}

	fmt.Println()
}
