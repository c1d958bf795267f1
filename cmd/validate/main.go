// Command validate checks generated forecast fixtures for integrity: every
// request has a forecast, re-running the predictor reproduces it, and each
// forecast satisfies the scoring and trajectory invariants.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -requests data/mock/forecast_requests.json \
//	  -forecasts data/mock/forecasts.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/storm-forecast-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	requestsPath := flag.String("requests", "", "path to forecast request fixture")
	forecastsPath := flag.String("forecasts", "", "path to forecast fixture")
	flag.Parse()

	if *requestsPath == "" || *forecastsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*requestsPath, *forecastsPath); code != 0 {
		os.Exit(code)
	}
}

func run(requestsPath, forecastsPath string) int {
	// Set a fixed clock matching genmock so ProcessedAt is reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.December, 1, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fmt.Println("=== Forecast Fixture Validation ===")
	fmt.Println()

	requests, err := loadJSON[domain.PredictionRequest](requestsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load requests: %v\n", err)
		return 1
	}
	forecasts, err := loadJSON[domain.Forecast](forecastsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load forecasts: %v\n", err)
		return 1
	}

	predictor, err := domain.NewPredictor(domain.DefaultCalibration())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: calibration: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateCoverage(requests, forecasts),
		validateReproduction(predictor, requests, forecasts),
		validateScoring(predictor, forecasts),
		validateTrajectories(predictor, forecasts),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d requests, %d forecasts\n", len(requests), len(forecasts))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ── Phase 1: Coverage ──

func validateCoverage(requests []domain.PredictionRequest, forecasts []domain.Forecast) *phase {
	p := &phase{name: "Phase 1: Coverage (requests vs forecasts)"}

	if len(requests) != len(forecasts) {
		p.errorf("count: %d requests, %d forecasts", len(requests), len(forecasts))
	}

	byRequest := map[string]int{}
	ids := map[string]bool{}
	for i := range forecasts {
		byRequest[forecasts[i].RequestID]++
		if ids[forecasts[i].ID] {
			p.errorf("forecast %d: duplicate id %s", i, forecasts[i].ID)
		}
		ids[forecasts[i].ID] = true
	}
	for _, r := range requests {
		switch byRequest[r.RequestID] {
		case 0:
			p.errorf("request %s: no forecast", r.RequestID)
		case 1:
		default:
			p.errorf("request %s: %d forecasts", r.RequestID, byRequest[r.RequestID])
		}
	}
	return p
}

// ── Phase 2: Reproduction ──
// Re-running the predictor must give the same forecast.

func validateReproduction(predictor *domain.Predictor, requests []domain.PredictionRequest, forecasts []domain.Forecast) *phase {
	p := &phase{name: "Phase 2: Reproduction (re-run predictor)"}

	byRequest := map[string]*domain.Forecast{}
	for i := range forecasts {
		byRequest[forecasts[i].RequestID] = &forecasts[i]
	}

	for _, r := range requests {
		got, ok := byRequest[r.RequestID]
		if !ok {
			continue
		}
		want, err := predictor.Predict(r)
		if err != nil {
			p.errorf("request %s: %v", r.RequestID, err)
			continue
		}
		if want.ID != got.ID {
			p.errorf("request %s: id: expected %s, got %s", r.RequestID, want.ID, got.ID)
		}
		if !floatEq(want.Similarity.Weighted, got.Similarity.Weighted) {
			p.errorf("request %s: similarity: expected %g, got %g", r.RequestID, want.Similarity.Weighted, got.Similarity.Weighted)
		}
		if want.Outlook != got.Outlook {
			p.errorf("request %s: outlook: expected %s, got %s", r.RequestID, want.Outlook, got.Outlook)
		}
		if len(want.Branches) != len(got.Branches) {
			p.errorf("request %s: branches: expected %d, got %d", r.RequestID, len(want.Branches), len(got.Branches))
			continue
		}
		for i := range want.Branches {
			w, g := want.Branches[i].Final(), got.Branches[i].Final()
			if !floatEq(w.Lat, g.Lat) || !floatEq(w.Lon, g.Lon) {
				p.errorf("request %s offset %g: final point: expected %v, got %v", r.RequestID, want.Branches[i].Offset, w, g)
			}
		}
	}
	return p
}

// ── Phase 3: Scoring ──

func validateScoring(predictor *domain.Predictor, forecasts []domain.Forecast) *phase {
	p := &phase{name: "Phase 3: Scoring (similarity, outlook)"}
	cal := predictor.Calibration().Similarity
	threshold := cal.Threshold
	// Scores are not clamped; only the component bounds below always hold.
	maxDirection := math.Hypot(cal.DirectionSin, cal.DirectionCos)

	for i := range forecasts {
		f := &forecasts[i]
		s := f.Similarity
		for name, v := range map[string]float64{
			"direction": s.Direction, "speed": s.Speed, "issue": s.Issue, "weighted": s.Weighted,
		} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				p.errorf("forecast %s: %s similarity is not finite", f.ID, name)
			}
		}
		if math.Abs(s.Direction) > maxDirection+1e-9 {
			p.errorf("forecast %s: direction similarity %g exceeds %g", f.ID, s.Direction, maxDirection)
		}
		if s.Speed > 1 {
			p.errorf("forecast %s: speed similarity %g above 1", f.ID, s.Speed)
		}
		if (s.Issue == 1) != f.Issue || (s.Issue != 0 && s.Issue != 1) {
			p.errorf("forecast %s: issue similarity %g for issue=%t", f.ID, s.Issue, f.Issue)
		}
		if !floatEq(s.ProbabilityPercent, s.Weighted*100) {
			p.errorf("forecast %s: probability %g != weighted*100", f.ID, s.ProbabilityPercent)
		}
		if !floatEq(f.Threshold, threshold) {
			p.errorf("forecast %s: threshold %g, calibration %g", f.ID, f.Threshold, threshold)
		}
		want := domain.OutlookUnlikely
		if s.Weighted >= threshold {
			want = domain.OutlookLikely
		}
		if f.Outlook != want {
			p.errorf("forecast %s: outlook %s for similarity %g", f.ID, f.Outlook, s.Weighted)
		}
	}
	return p
}

// ── Phase 4: Trajectories ──

func validateTrajectories(predictor *domain.Predictor, forecasts []domain.Forecast) *phase {
	p := &phase{name: "Phase 4: Trajectories (fan shape)"}
	freeze := predictor.Calibration().Trajectory.FreezeLatitude

	for i := range forecasts {
		f := &forecasts[i]
		for _, b := range f.Branches {
			if len(b.Path) != f.Steps+1 {
				p.errorf("forecast %s offset %g: %d points, expected %d", f.ID, b.Offset, len(b.Path), f.Steps+1)
				continue
			}
			if len(b.Regions) != f.Steps {
				p.errorf("forecast %s offset %g: %d regions, expected %d", f.ID, b.Offset, len(b.Regions), f.Steps)
			}
			if b.Path[0] != f.Start {
				p.errorf("forecast %s offset %g: path does not begin at start", f.ID, b.Offset)
			}
			crossed := false
			for _, pt := range b.Path[1:] {
				if pt.Lat > freeze {
					crossed = true
				}
			}
			if crossed != b.Frozen {
				p.errorf("forecast %s offset %g: frozen=%t but crossed freeze latitude=%t", f.ID, b.Offset, b.Frozen, crossed)
			}
		}
	}
	return p
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
