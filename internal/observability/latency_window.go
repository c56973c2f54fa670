package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Chat reply stages tracked by the rolling window.
const (
	StageFirstDelta = "first_delta"
	StageReplyTotal = "reply_total"
	StagePersist    = "persist"
)

// chatStages lists the tracked stages in reply order with their p95 budgets.
var chatStages = [...]struct {
	name     string
	targetMS float64
}{
	{StageFirstDelta, 1500},
	{StageReplyTotal, 8000},
	{StagePersist, 150},
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverBudget  bool    `json:"over_budget"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// latencyWindow keeps the most recent samples of each chat stage plus
// counters for reply outcomes that are not latencies.
type latencyWindow struct {
	mu       sync.Mutex
	size     int
	samples  [len(chatStages)][]float64
	counters map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{size: size, counters: make(map[string]int)}
}

func stageIndex(stage string) int {
	for i, s := range chatStages {
		if s.name == stage {
			return i
		}
	}
	return -1
}

// Observe records ms for a chat stage. Unknown stages and negative values are dropped.
func (w *latencyWindow) Observe(stage string, ms float64) {
	i := stageIndex(stage)
	if i < 0 || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[i], ms)
	if len(s) > w.size {
		s = s[len(s)-w.size:]
	}
	w.samples[i] = s
}

func (w *latencyWindow) ObserveIndicator(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	w.counters[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(chatStages)),
	}
	for i, stage := range chatStages {
		if len(w.samples[i]) == 0 {
			continue
		}
		snap.Stages = append(snap.Stages, summarize(stage.name, stage.targetMS, w.samples[i]))
	}

	for name, n := range w.counters {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: n})
	}
	sort.Slice(snap.Indicators, func(i, j int) bool { return snap.Indicators[i].Name < snap.Indicators[j].Name })
	return snap
}

func summarize(stage string, targetMS float64, recent []float64) StageStats {
	sorted := append([]float64(nil), recent...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	p95 := nearestRank(sorted, 95)
	return StageStats{
		Stage:       stage,
		Samples:     len(sorted),
		LastMS:      round2(recent[len(recent)-1]),
		AvgMS:       round2(sum / float64(len(sorted))),
		P50MS:       round2(nearestRank(sorted, 50)),
		P95MS:       round2(p95),
		P99MS:       round2(nearestRank(sorted, 99)),
		TargetP95MS: targetMS,
		OverBudget:  targetMS > 0 && p95 > targetMS,
	}
}

// nearestRank returns the p-th percentile of a sorted, non-empty slice.
func nearestRank(sorted []float64, p int) float64 {
	rank := int(math.Ceil(float64(p) / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
