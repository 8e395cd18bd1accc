// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package recap

import "regexp"

var lowQualityPattern = regexp.MustCompile(`(?i)^(call ended|key mention)`)

// passesQualityGuard reports whether sentence is acceptable to store as-is
// (spec.md §4.5 step 9): at least 15 characters and not a generic,
// templated non-answer.
func passesQualityGuard(sentence string) bool {
	if len(sentence) < 15 {
		return false
	}
	return !lowQualityPattern.MatchString(sentence)
}

// fallbackSentence synthesizes a sentence from transcript turns when the
// LLM's sentence fails the quality guard. It takes the first non-empty
// remote turn, or a generic completion notice if there is none.
func fallbackSentence(turns []TranscriptTurn) string {
	for _, t := range turns {
		if t.Speaker == "remote" && t.Text != "" {
			return "The call covered: " + t.Text
		}
	}
	return "The call completed but no clear outcome could be determined."
}
