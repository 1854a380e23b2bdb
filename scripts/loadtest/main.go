// Loadtest drives concurrent payment requests through the router and reports
// status codes, latency percentiles and the distribution of payments across
// downstream instances.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/route -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -concurrency 50 -requests 5000 -csv results.csv -out summary.json
//
// Instance attribution relies on the "instance" field returned by
// scripts/mockinstance.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type result struct {
	idx       int
	requestID string
	instance  string
	status    int
	duration  time.Duration
	err       error
}

type instanceSummary struct {
	Total int     `json:"total"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

type summary struct {
	Target        string                     `json:"target"`
	Requests      int                        `json:"requests"`
	Concurrency   int                        `json:"concurrency"`
	Success       int64                      `json:"success"`
	Failure       int64                      `json:"failure"`
	DurationMs    int64                      `json:"duration_ms"`
	ThroughputRPS float64                    `json:"throughput_rps"`
	StatusCodes   map[int]int                `json:"status_codes"`
	Instances     map[string]instanceSummary `json:"instances"`
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/route", "router endpoint")
		concurrency = flag.Int("concurrency", 10, "number of concurrent workers")
		requests    = flag.Int("requests", 100, "total number of payments to send")
		body        = flag.String("body", `{"amount":10,"currency":"EUR"}`, "payment body")
		timeout     = flag.Duration("timeout", 40*time.Second, "per-request timeout")
		outJSON     = flag.String("out", "", "write JSON summary to this file")
		outCSV      = flag.String("csv", "", "write per-request CSV to this file")
		verbose     = flag.Bool("v", false, "log every request")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	jobs := make(chan int)
	results := make(chan result, *concurrency)
	var success, failure atomic.Int64
	var wg sync.WaitGroup

	testStart := time.Now()

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				res := send(client, *url, []byte(*body), idx)
				if res.err == nil && res.status == http.StatusOK {
					success.Add(1)
				} else {
					failure.Add(1)
				}
				results <- res
			}
		}()
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var csvWriter *csv.Writer
	if *outCSV != "" {
		f, err := os.Create(*outCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create csv file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		csvWriter = csv.NewWriter(f)
		csvWriter.Write([]string{"idx", "request_id", "instance", "status", "duration_ms"})
	}

	statusCodes := make(map[int]int)
	latencies := make(map[string][]time.Duration)
	var all []time.Duration

	for res := range results {
		all = append(all, res.duration)
		if res.err != nil {
			statusCodes[0]++
			if *verbose {
				fmt.Printf("idx=%d error=%v\n", res.idx, res.err)
			}
			continue
		}

		statusCodes[res.status]++
		latencies[res.instance] = append(latencies[res.instance], res.duration)

		if csvWriter != nil {
			csvWriter.Write([]string{
				strconv.Itoa(res.idx),
				res.requestID,
				res.instance,
				strconv.Itoa(res.status),
				fmt.Sprintf("%.3f", float64(res.duration.Microseconds())/1000.0),
			})
		}
		if *verbose {
			fmt.Printf("idx=%d instance=%s status=%d dur=%v\n", res.idx, res.instance, res.status, res.duration)
		}
	}
	if csvWriter != nil {
		csvWriter.Flush()
	}

	elapsed := time.Since(testStart)
	report := summary{
		Target:        *url,
		Requests:      *requests,
		Concurrency:   *concurrency,
		Success:       success.Load(),
		Failure:       failure.Load(),
		DurationMs:    elapsed.Milliseconds(),
		ThroughputRPS: float64(*requests) / elapsed.Seconds(),
		StatusCodes:   statusCodes,
		Instances:     make(map[string]instanceSummary, len(latencies)),
	}

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", report.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", report.Requests, report.Concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", report.Success, report.Failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", elapsed, report.ThroughputRPS)

	fmt.Println("\nStatus codes (0 = transport error):")
	codes := make([]int, 0, len(statusCodes))
	for code := range statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, statusCodes[code])
	}

	fmt.Println("\nInstance distribution:")
	names := make([]string, 0, len(latencies))
	for name := range latencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sorted := sortedCopy(latencies[name])
		s := instanceSummary{
			Total: len(sorted),
			P50:   millis(pick(sorted, 0.50)),
			P95:   millis(pick(sorted, 0.95)),
			P99:   millis(pick(sorted, 0.99)),
		}
		report.Instances[name] = s
		fmt.Printf("  %s -> total=%d p50=%.1fms p95=%.1fms p99=%.1fms\n", name, s.Total, s.P50, s.P95, s.P99)
	}

	if len(all) > 0 {
		sorted := sortedCopy(all)
		fmt.Println("\nOverall latencies:")
		fmt.Printf("  samples=%d min=%v p50=%v p95=%v p99=%v max=%v\n",
			len(sorted), sorted[0], pick(sorted, 0.50), pick(sorted, 0.95), pick(sorted, 0.99), sorted[len(sorted)-1])
	}

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if report.Failure > 0 {
		os.Exit(2)
	}
}

func send(client *http.Client, url string, body []byte, idx int) result {
	res := result{idx: idx, requestID: uuid.NewString()}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		res.err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", res.requestID)

	start := time.Now()
	resp, err := client.Do(req)
	res.duration = time.Since(start)
	if err != nil {
		res.err = err
		return res
	}
	defer resp.Body.Close()

	res.status = resp.StatusCode
	res.instance = "(none)"

	payload, _ := io.ReadAll(resp.Body)
	var echo struct {
		Instance string `json:"instance"`
	}
	if resp.StatusCode == http.StatusOK && json.Unmarshal(payload, &echo) == nil && echo.Instance != "" {
		res.instance = echo.Instance
	}

	return res
}

func sortedCopy(in []time.Duration) []time.Duration {
	out := make([]time.Duration, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func pick(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
