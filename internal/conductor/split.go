package conductor

import (
	"github.com/haptickit/hapticd/internal/models"
)

// chunkBoundary picks where to cut an oversized composition. The cut must
// happen at or before maxSize elements; within that window it prefers the
// position whose amplitude is at its minimum, ideally zero, so the seam
// between hardware calls lands where it is least perceptible.
//
// The returned boundary is the number of elements in the first chunk and
// is always in [1, maxSize].
func chunkBoundary(amplitudes []float64, maxSize int) int {
	if maxSize <= 0 || len(amplitudes) <= maxSize {
		return len(amplitudes)
	}
	best := maxSize
	bestAmp := amplitudes[maxSize-1]
	// Scan backwards so the longest chunk wins among equal minima.
	for i := maxSize - 1; i >= 1; i-- {
		if amplitudes[i-1] < bestAmp {
			bestAmp = amplitudes[i-1]
			best = i
		}
		if bestAmp == 0 {
			break
		}
	}
	return best
}

// primitiveAmplitudes extracts the scale of each primitive for boundary
// selection.
func primitiveAmplitudes(segs []models.PrimitiveSegment) []float64 {
	out := make([]float64, len(segs))
	for i, s := range segs {
		out[i] = s.Scale
	}
	return out
}

// rampEndAmplitudes extracts the end amplitude of each ramp for boundary
// selection: cutting after a ramp ending near zero hides the seam.
func rampEndAmplitudes(ramps []models.RampSegment) []float64 {
	out := make([]float64, len(ramps))
	for i, r := range ramps {
		out[i] = r.EndAmplitude
	}
	return out
}

// pwleAmplitudes extracts each envelope point's amplitude for boundary
// selection.
func pwleAmplitudes(points []models.PwlePointSegment) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Amplitude
	}
	return out
}
