package workflow

import (
	"sort"
	"sync"
	"time"
)

const (
	estimatorWindowSize = 100
	defaultStageGuess   = time.Second
	confidenceSamples   = 20
)

// durationRing keeps the most recent estimatorWindowSize observations.
type durationRing struct {
	samples []time.Duration
}

func (r *durationRing) add(d time.Duration) {
	r.samples = append(r.samples, d)
	if len(r.samples) > estimatorWindowSize {
		r.samples = r.samples[1:]
	}
}

func (r *durationRing) p90() (time.Duration, bool) {
	if len(r.samples) == 0 {
		return 0, false
	}
	sorted := append([]time.Duration(nil), r.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.9)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], true
}

// TimeEstimator predicts stage and workflow durations from recent history.
// Estimates are P90 of the observed window, pessimistic by intent so
// deadlines derived from them hold most of the time.
type TimeEstimator struct {
	mu        sync.Mutex
	stages    map[string]*durationRing
	workflows map[string]*durationRing
}

// NewTimeEstimator creates an empty estimator.
func NewTimeEstimator() *TimeEstimator {
	return &TimeEstimator{
		stages:    make(map[string]*durationRing),
		workflows: make(map[string]*durationRing),
	}
}

// RecordStage adds one completed stage duration.
func (e *TimeEstimator) RecordStage(stage string, d time.Duration) {
	if d < 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ring, ok := e.stages[stage]
	if !ok {
		ring = &durationRing{}
		e.stages[stage] = ring
	}
	ring.add(d)
}

// RecordWorkflow adds one completed workflow duration for a template.
func (e *TimeEstimator) RecordWorkflow(templateID string, d time.Duration) {
	if d < 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ring, ok := e.workflows[templateID]
	if !ok {
		ring = &durationRing{}
		e.workflows[templateID] = ring
	}
	ring.add(d)
}

// EstimateStage predicts one stage's duration. Unknown stages get a flat
// one-second guess.
func (e *TimeEstimator) EstimateStage(stage string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimateStageLocked(stage)
}

func (e *TimeEstimator) estimateStageLocked(stage string) time.Duration {
	if ring, ok := e.stages[stage]; ok {
		if p90, ok := ring.p90(); ok {
			return p90
		}
	}
	return defaultStageGuess
}

// EstimateWorkflow predicts a whole workflow's duration: P90 of completed
// runs of the template when available, otherwise the sum of its stage
// estimates.
func (e *TimeEstimator) EstimateWorkflow(tmpl *Template) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ring, ok := e.workflows[tmpl.ID]; ok {
		if p90, ok := ring.p90(); ok {
			return p90
		}
	}
	var total time.Duration
	for _, stage := range tmpl.Stages {
		total += e.estimateStageLocked(stage.Name)
	}
	return total
}

// Confidence reports how much history backs a stage estimate, from 0 for
// none to 1 at twenty or more samples.
func (e *TimeEstimator) Confidence(stage string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ring, ok := e.stages[stage]
	if !ok {
		return 0
	}
	n := float64(len(ring.samples))
	if n >= confidenceSamples {
		return 1
	}
	return n / confidenceSamples
}

// StageEstimate is the monitoring view of one stage's prediction.
type StageEstimate struct {
	Stage      string        `json:"stage"`
	Estimate   time.Duration `json:"estimate"`
	Confidence float64       `json:"confidence"`
	Samples    int           `json:"samples"`
}

// Estimates returns predictions for every stage with recorded history.
func (e *TimeEstimator) Estimates() []StageEstimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StageEstimate, 0, len(e.stages))
	for stage, ring := range e.stages {
		estimate, _ := ring.p90()
		n := float64(len(ring.samples))
		confidence := n / confidenceSamples
		if confidence > 1 {
			confidence = 1
		}
		out = append(out, StageEstimate{
			Stage:      stage,
			Estimate:   estimate,
			Confidence: confidence,
			Samples:    len(ring.samples),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
