// Package scaling analyzes recent load history and recommends worker-count
// changes. Advisory only: it never scales anything itself.
package scaling

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kapetan-io/tackle/clock"
)

const (
	StatusInsufficientData = "INSUFFICIENT_DATA"
	StatusAnalysisComplete = "ANALYSIS_COMPLETE"
)

type Recommendation struct {
	Workers int    `json:"workerCount"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

type Config struct {
	MinSamples   int // samples required before recommending
	Retention    int // ring size
	MinWorkers   int
	MaxWorkers   int
	ScaleUpPct   float64 // latest load above this during a peak hour scales up
	ScaleDownPct float64
	StepUp       int
	StepDown     int
}

type sample struct {
	hourly  map[int]float64
	workers int
	load    float64
	at      time.Time
}

type Advisor struct {
	cfg Config

	mu      sync.Mutex
	history []sample
}

func New(cfg Config) *Advisor {
	if cfg.StepUp == 0 {
		cfg.StepUp = 2
	}
	if cfg.StepDown == 0 {
		cfg.StepDown = 1
	}
	return &Advisor{cfg: cfg}
}

// Record appends one load sample. Samples past the retention window drop
// oldest first.
func (a *Advisor) Record(hourlyVolumes map[int]float64, currentWorkers int, averageLoad float64) {
	h := make(map[int]float64, len(hourlyVolumes))
	for k, v := range hourlyVolumes {
		h[k] = v
	}
	s := sample{hourly: h, workers: currentWorkers, load: averageLoad, at: clock.Now()}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, s)
	if len(a.history) > a.cfg.Retention {
		a.history = a.history[len(a.history)-a.cfg.Retention:]
	}
}

// Recommend averages volume per hour across retained samples, treats hours
// at or above 80% of the maximum average as peak hours, and recommends a
// worker delta from the latest load.
func (a *Advisor) Recommend() Recommendation {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.history) < a.cfg.MinSamples {
		return Recommendation{Status: StatusInsufficientData, Reason: "need more historical data"}
	}

	peaks := peakHours(a.averagesLocked())
	latest := a.history[len(a.history)-1]
	hour := clock.Now().Hour()
	isPeak := contains(peaks, hour)

	workers := latest.workers
	switch {
	case isPeak && latest.load > a.cfg.ScaleUpPct:
		workers = min(latest.workers+a.cfg.StepUp, a.cfg.MaxWorkers)
	case !isPeak && latest.load < a.cfg.ScaleDownPct && latest.workers > a.cfg.MinWorkers:
		workers = max(latest.workers-a.cfg.StepDown, a.cfg.MinWorkers)
	}

	var reason string
	switch {
	case workers > latest.workers:
		reason = fmt.Sprintf("high load (%.1f%%), scaling up for predicted peak hours %v", latest.load, peaks)
	case workers < latest.workers:
		reason = fmt.Sprintf("low load (%.1f%%), scaling down off-peak", latest.load)
	default:
		reason = fmt.Sprintf("load stable at %.1f%%, no change", latest.load)
	}
	return Recommendation{Workers: workers, Status: StatusAnalysisComplete, Reason: reason}
}

func (a *Advisor) averagesLocked() map[int]float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, s := range a.history {
		for hour, vol := range s.hourly {
			sums[hour] += vol
			counts[hour]++
		}
	}
	avgs := make(map[int]float64, len(sums))
	for hour, sum := range sums {
		avgs[hour] = sum / float64(counts[hour])
	}
	return avgs
}

// peakHours returns hours with average volume at or above 80% of the max.
func peakHours(avgs map[int]float64) []int {
	var maxVol float64
	for _, v := range avgs {
		if v > maxVol {
			maxVol = v
		}
	}
	threshold := maxVol * 0.8
	var peaks []int
	for hour, v := range avgs {
		if v >= threshold && maxVol > 0 {
			peaks = append(peaks, hour)
		}
	}
	sort.Ints(peaks)
	return peaks
}

func contains(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}
