// Benchmark tool for replaying labelled Ethereum transactions against ethscore.
//
// Usage:
//
//	go run ./cmd/benchmark -csv data/etfd_dataset.csv -url http://localhost:8080
//
// This tool:
//  1. Reads the labelled dataset (the 7 model features plus a Fraud column)
//  2. Sends each row to POST /predict
//  3. Compares is_fraud with the label
//  4. Reports accuracy, precision, recall, F1, ROC-AUC and the confusion matrix
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/ethscore/internal/domain"
)

// Row is one labelled transaction.
type Row struct {
	TxHash   string
	Features map[string]float64
	IsFraud  bool
}

// PredictResponse is the /predict response format.
type PredictResponse struct {
	TxHash           any     `json:"tx_hash"`
	FraudProbability float64 `json:"fraud_probability"`
	IsFraud          bool    `json:"is_fraud"`
	Classification   string  `json:"classification"`
	Message          string  `json:"message"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // fraud predicted as fraud
	FalsePositives int64 // legitimate predicted as fraud
	TrueNegatives  int64
	FalseNegatives int64 // missed fraud

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu     sync.Mutex
	scored []scoredRow
	tiers  map[string]int64
}

type scoredRow struct {
	prob  float64
	fraud bool
}

func (m *Metrics) record(row Row, resp *PredictResponse) {
	switch {
	case resp.IsFraud && row.IsFraud:
		atomic.AddInt64(&m.TruePositives, 1)
	case resp.IsFraud && !row.IsFraud:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !resp.IsFraud && !row.IsFraud:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}

	m.mu.Lock()
	m.scored = append(m.scored, scoredRow{prob: resp.FraudProbability, fraud: row.IsFraud})
	m.tiers[resp.Classification]++
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "ethscore base URL")
	limit := flag.Int("limit", 10000, "Maximum rows to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	label := flag.String("label", "Fraud", "Name of the label column")
	verbose := flag.Bool("verbose", false, "Print each row result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/dataset.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        ETHSCORE BENCHMARK - Ethereum Fraud Detection          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: ethscore not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure ethscore is running:")
		fmt.Println("  go run ./cmd/ethscore")
		os.Exit(1)
	}
	fmt.Println("✓ ethscore is healthy")

	fmt.Printf("\nReading dataset from %s...\n", *csvPath)
	rows, err := readCSV(*csvPath, *label, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("ERROR: dataset is empty")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d rows\n", len(rows))

	fraudCount := 0
	for _, r := range rows {
		if r.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(rows)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(rows)-fraudCount, 100*float64(len(rows)-fraudCount)/float64(len(rows)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(context.Background(), rows, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
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

// readCSV loads labelled rows. When the dataset predates has_activity the
// feature is derived the same way training does.
func readCSV(path, label string, limit int) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.TrimSpace(col)] = i
	}

	labelCol, ok := colIndex[label]
	if !ok {
		return nil, fmt.Errorf("label column %q not found", label)
	}
	_, hasActivityCol := colIndex["has_activity"]
	for _, name := range domain.FeatureNames {
		if name == "has_activity" && !hasActivityCol {
			continue
		}
		if _, ok := colIndex[name]; !ok {
			return nil, fmt.Errorf("feature column %q not found", name)
		}
	}
	hashCol, hasHash := colIndex["tx_hash"]

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}

		row := Row{
			Features: make(map[string]float64, domain.NumFeatures),
			IsFraud:  parseLabel(field(record, labelCol)),
		}
		if hasHash {
			row.TxHash = field(record, hashCol)
		}

		for _, name := range domain.FeatureNames {
			idx, ok := colIndex[name]
			if !ok {
				continue
			}
			v, _ := strconv.ParseFloat(field(record, idx), 64)
			row.Features[name] = v
		}
		if !hasActivityCol {
			row.Features["has_activity"] = 0
			if row.Features["total_tx_sent"] > 0 || row.Features["total_received"] > 0 {
				row.Features["has_activity"] = 1
			}
		}

		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, nil
}

func field(record []string, i int) string {
	if i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}

func parseLabel(s string) bool {
	switch strings.ToLower(s) {
	case "1", "1.0", "true", "yes":
		return true
	}
	return false
}

func runBenchmark(ctx context.Context, rows []Row, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{tiers: make(map[string]int64)}
	client := &http.Client{Timeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	for _, row := range rows {
		g.Go(func() error {
			start := time.Now()
			result, err := predict(ctx, client, baseURL, row)
			atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
			atomic.AddInt64(&metrics.TotalProcessed, 1)

			if err != nil {
				atomic.AddInt64(&metrics.TotalErrors, 1)
				if verbose {
					fmt.Printf("ERROR: %s -> %v\n", row.TxHash, err)
				}
				return nil
			}

			metrics.record(row, result)

			if verbose {
				status := "✓"
				if result.IsFraud != row.IsFraud {
					status = "✗"
				}
				fmt.Printf("%s %-12s | Fraud: %-5v | Predicted: %-5v (%.3f) %s\n",
					status, shortHash(row.TxHash), row.IsFraud, result.IsFraud,
					result.FraudProbability, result.Classification)
			}
			return nil
		})
	}

	g.Wait()
	return metrics
}

func predict(ctx context.Context, client *http.Client, baseURL string, row Row) (*PredictResponse, error) {
	body := make(map[string]any, domain.NumFeatures+1)
	for name, v := range row.Features {
		body[name] = v
	}
	if row.TxHash != "" {
		body[domain.TxHashField] = row.TxHash
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func shortHash(h string) string {
	if h == "" {
		return "-"
	}
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Report holds the derived classification metrics.
type Report struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	ROCAUC    float64
}

func (m *Metrics) Report() Report {
	tp := float64(m.TruePositives)
	fp := float64(m.FalsePositives)
	tn := float64(m.TrueNegatives)
	fn := float64(m.FalseNegatives)

	var r Report
	if total := tp + fp + tn + fn; total > 0 {
		r.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		r.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		r.Recall = tp / (tp + fn)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	r.ROCAUC = rocAUC(m.scored)
	return r
}

// rocAUC computes the area under the ROC curve with the rank statistic.
// Tied probabilities share their average rank.
func rocAUC(rows []scoredRow) float64 {
	sorted := make([]scoredRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].prob < sorted[j].prob })

	var pos, neg, rankSum float64
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].prob == sorted[i].prob {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			if sorted[k].fraud {
				pos++
				rankSum += avg
			} else {
				neg++
			}
		}
		i = j
	}

	if pos == 0 || neg == 0 {
		return 0
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}

func printResults(m *Metrics, duration time.Duration) {
	r := m.Report()

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Fraud:            %d\n", m.TruePositives+m.FalseNegatives)
	fmt.Printf("   Non-Fraud:        %d\n", m.TrueNegatives+m.FalsePositives)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                      Predicted")
	fmt.Println("                   Fraud    Legit")
	fmt.Printf("   Actual Fraud  %7d  %7d\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   Actual Legit  %7d  %7d\n", m.FalsePositives, m.TrueNegatives)

	fmt.Printf("\nMODEL PERFORMANCE\n")
	fmt.Printf("   Accuracy:   %.4f\n", r.Accuracy)
	fmt.Printf("   Precision:  %.4f\n", r.Precision)
	fmt.Printf("   Recall:     %.4f\n", r.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", r.F1)
	fmt.Printf("   ROC-AUC:    %.4f\n", r.ROCAUC)

	fmt.Printf("\nRISK TIERS\n")
	for _, tier := range []domain.Classification{domain.ClassificationHigh, domain.ClassificationMedium, domain.ClassificationLow} {
		fmt.Printf("   %-12s %d\n", tier, m.tiers[string(tier)])
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Duration:         %s\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.0f req/s\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
