// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package recap

// computeConfidence derives the recap confidence bucket from the mean of
// non-null ASR confidences across the call's transcript turns (spec.md
// §4.5 step 10).
func computeConfidence(turns []TranscriptTurn) string {
	var sum float64
	var n int
	for _, t := range turns {
		if t.Confidence == nil {
			continue
		}
		sum += *t.Confidence
		n++
	}

	if n == 0 {
		return "low"
	}
	if n == 1 {
		return "medium"
	}

	mean := sum / float64(n)
	switch {
	case mean >= 0.85:
		return "high"
	case mean >= 0.65:
		return "medium"
	default:
		return "low"
	}
}
