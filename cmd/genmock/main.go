// Command genmock reads a wind observation CSV (date,region,direction,speed)
// and generates request and forecast fixtures for downstream test suites. It
// uses the service's domain package so the fixtures match real pipeline
// output.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv data/mock/observations.csv \
//	  -requests-out data/mock/forecast_requests.json \
//	  -forecasts-out data/mock/forecasts.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-forecast-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// fixtureTime is the fixed processing time stamped on generated forecasts.
var fixtureTime = time.Date(2024, time.December, 1, 6, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "wind observation CSV (date,region,direction,speed)")
	requestsOut := flag.String("requests-out", "", "output path for forecast request fixture")
	forecastsOut := flag.String("forecasts-out", "", "output path for forecast fixture")
	flag.Parse()

	if *csvPath == "" || *requestsOut == "" || *forecastsOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -csv, -requests-out, -forecasts-out")
	}

	// Set a fixed clock for reproducible ProcessedAt timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(fixtureTime))
	defer domain.SetClock(nil)

	predictor, err := domain.NewPredictor(domain.DefaultCalibration())
	if err != nil {
		return err
	}

	requests, err := readRequests(*csvPath)
	if err != nil {
		return fmt.Errorf("processing %s: %w", *csvPath, err)
	}
	log.Printf("requests: %d", len(requests))

	forecasts := make([]domain.Forecast, 0, len(requests))
	for _, req := range requests {
		f, err := predictor.Predict(req)
		if err != nil {
			return fmt.Errorf("predict %s: %w", req.RequestID, err)
		}
		forecasts = append(forecasts, f)
	}

	if err := writeJSON(*requestsOut, requests); err != nil {
		return fmt.Errorf("writing request fixture: %w", err)
	}
	log.Printf("wrote request fixture: %s", *requestsOut)

	if err := writeJSON(*forecastsOut, forecasts); err != nil {
		return fmt.Errorf("writing forecast fixture: %w", err)
	}
	log.Printf("wrote forecast fixture: %s", *forecastsOut)

	printStats(forecasts)
	return nil
}

// readRequests groups CSV rows by date into one request per date, in date order.
func readRequests(path string) ([]domain.PredictionRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{"date", "region", "direction", "speed"} {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	tables := map[string]domain.WindTable{}
	for n, row := range rows[1:] {
		line := n + 2
		dir, err := strconv.ParseFloat(get(row, colIdx, "direction"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: direction: %w", line, err)
		}
		speed, err := strconv.ParseFloat(get(row, colIdx, "speed"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: speed: %w", line, err)
		}
		region := domain.Region(strings.ToLower(get(row, colIdx, "region")))
		if !region.Valid() {
			return nil, fmt.Errorf("line %d: unknown region %q", line, region)
		}

		date := get(row, colIdx, "date")
		if tables[date] == nil {
			tables[date] = domain.WindTable{}
		}
		tables[date][region] = domain.WindObservation{Direction: dir, Speed: speed}
	}

	dates := make([]string, 0, len(tables))
	for d := range tables {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	requests := make([]domain.PredictionRequest, 0, len(dates))
	for _, d := range dates {
		req := domain.PredictionRequest{RequestID: "mock-" + d, Date: d, Winds: tables[d]}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("date %s: %w", d, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(forecasts []domain.Forecast) {
	var likely, issue, frozen int
	for i := range forecasts {
		f := &forecasts[i]
		if f.Outlook == domain.OutlookLikely {
			likely++
		}
		if f.Issue {
			issue++
		}
		for _, b := range f.Branches {
			if b.Frozen {
				frozen++
			}
		}
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(forecasts))
	fmt.Printf("By outlook: likely=%d, unlikely=%d\n", likely, len(forecasts)-likely)
	fmt.Printf("Issue dates: %d\n", issue)
	fmt.Printf("Frozen branches: %d\n", frozen)

	fmt.Println("\nPer date:")
	for i := range forecasts {
		f := &forecasts[i]
		fmt.Printf("  %s  similarity=%.4f  %-8s  avg=%.1f°/%.1fkt\n",
			f.Date, f.Similarity.Weighted, f.Outlook, f.AvgDirection, f.AvgSpeed)
		for _, b := range f.Branches {
			end := b.Final()
			fmt.Printf("    %+5.0f°  -> %.4f, %.4f  frozen=%t\n", b.Offset, end.Lat, end.Lon, b.Frozen)
		}
	}
}
