package learner

import (
	"bathguard/internal/models"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	DefaultMinSamples    = 5
	DefaultMinConfidence = 0.7

	maxConfidence      = 0.95
	baseConfidence     = 0.5
	highVarianceStdDev = 15.0
	varianceDiscount   = 0.8
	fallbackGap        = 10.0
)

// ThresholdLearner proposes humidity thresholds from past shower events
type ThresholdLearner struct {
	minSamples int
	now        func() time.Time
}

// NewThresholdLearner creates a learner requiring at least 5 closed events
func NewThresholdLearner() *ThresholdLearner {
	return &ThresholdLearner{
		minSamples: DefaultMinSamples,
		now:        time.Now,
	}
}

// SetMinSamples changes how many closed events Learn requires; n <= 0 is ignored
func (tl *ThresholdLearner) SetMinSamples(n int) {
	if n > 0 {
		tl.minSamples = n
	}
}

// Learn computes a proposal from closed events, or nil when there is not enough data.
// The proposal is not filtered by confidence.
func (tl *ThresholdLearner) Learn(automation string, events []models.Event) *models.LearnedThresholds {
	var starts, peaks, ends []float64
	for _, e := range events {
		if !e.Closed() {
			continue
		}
		starts = append(starts, e.StartHumidity)
		peaks = append(peaks, e.PeakHumidity)
		if e.EndHumidity != nil {
			ends = append(ends, *e.EndHumidity)
		}
	}

	samples := len(starts)
	if samples < tl.minSamples {
		return nil
	}

	high := Percentile(starts, 0.75)

	var low float64
	var reason string
	if len(ends) > 0 {
		low = Percentile(ends, 0.25)
		reason = fmt.Sprintf("p75 of start humidity (%.1f%%) and p25 of end humidity (%.1f%%) over %d events", high, low, samples)
	} else {
		low = high - fallbackGap
		reason = fmt.Sprintf("p75 of start humidity (%.1f%%) over %d events, no end humidity recorded", high, samples)
	}

	if low >= high {
		low = high - fallbackGap
		reason += fmt.Sprintf("; low clamped to %.1f%%", low)
	}

	stdDev := calculateStdDev(peaks, calculateMean(peaks))

	return &models.LearnedThresholds{
		Automation:   automation,
		HumidityHigh: high,
		HumidityLow:  low,
		Confidence:   calculateConfidence(samples, stdDev),
		SamplesUsed:  samples,
		Reason:       reason,
		LearnedAt:    tl.now(),
	}
}

// SuggestThresholds returns a proposal only when its confidence reaches minConfidence
func (tl *ThresholdLearner) SuggestThresholds(automation string, events []models.Event, minConfidence float64) *models.LearnedThresholds {
	proposal := tl.Learn(automation, events)
	if proposal == nil || proposal.Confidence < minConfidence {
		return nil
	}
	return proposal
}

// calculateConfidence grows with sample count and is discounted for noisy peaks
func calculateConfidence(samples int, peakStdDev float64) float64 {
	confidence := math.Min(maxConfidence, baseConfidence+float64(samples)/100)
	if peakStdDev > highVarianceStdDev {
		confidence *= varianceDiscount
	}
	return confidence
}

// Percentile sorts a copy ascending and picks index floor(n*p), no interpolation
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// calculateMean calculates the mean of values
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStdDev calculates the sample standard deviation of values
func calculateStdDev(values []float64, mean float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
