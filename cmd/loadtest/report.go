package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
)

const scenarioMetric = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Scenarios       int64                 `json:"scenarios"`
	Failed          int64                 `json:"failed"`
	RPS             float64               `json:"rps"`
	Calls           map[string]callReport `json:"calls"`
}

type callSamples struct {
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector копит результаты вызовов со всех воркеров.
type collector struct {
	mu    sync.Mutex
	calls map[string]*callSamples
}

func newCollector() *collector {
	return &collector{calls: make(map[string]*callSamples)}
}

func (c *collector) record(name string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	samples, ok := c.calls[name]
	if !ok {
		samples = &callSamples{codes: make(map[string]int64)}
		c.calls[name] = samples
	}
	if code != codes.OK {
		samples.failed++
	}
	samples.codes[code.String()]++
	samples.latencies = append(samples.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) report(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Calls:           make(map[string]callReport, len(c.calls)),
	}
	for name, samples := range c.calls {
		total := int64(len(samples.latencies))
		codesCopy := make(map[string]int64, len(samples.codes))
		for code, n := range samples.codes {
			codesCopy[code] = n
		}
		out.Calls[name] = callReport{
			Calls:     total,
			Failed:    samples.failed,
			ErrorRate: ratio(samples.failed, total),
			Codes:     codesCopy,
			LatencyMs: summarize(samples.latencies),
		}
	}
	if scenario, ok := out.Calls[scenarioMetric]; ok {
		out.Scenarios = scenario.Calls
		out.Failed = scenario.Failed
	}
	if elapsed > 0 {
		out.RPS = float64(out.Scenarios) / elapsed.Seconds()
	}
	return out
}

func summarize(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует между соседними рангами отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower, upper := int(math.Floor(rank)), int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func printReport(w io.Writer, r report, cfg config) {
	s := r.Calls[scenarioMetric]
	_, _ = fmt.Fprintf(w, "mode=%s scenarios=%d failed=%d error_rate=%.4f duration=%.2fs rps=%.2f\n",
		cfg.mode, r.Scenarios, r.Failed, s.ErrorRate, r.DurationSeconds, r.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		s.LatencyMs.Min, s.LatencyMs.Avg, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99, s.LatencyMs.Max)

	names := make([]string, 0, len(r.Calls))
	for name := range r.Calls {
		if name != scenarioMetric {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		c := r.Calls[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d failed=%d p95=%.2fms codes=%v\n", name, c.Calls, c.Failed, c.LatencyMs.P95, c.Codes)
	}
}

func writeJSONReport(path string, r report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явно флагом -output.
	file, err := os.Create(clean)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
