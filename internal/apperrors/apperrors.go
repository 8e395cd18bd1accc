// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package apperrors defines the error kinds spec.md §7 enumerates. Each
// kind is a sentinel error; call sites wrap it with fmt.Errorf("...: %w")
// to attach context, and callers use errors.Is to classify.
package apperrors

import "errors"

var (
	// ErrConfiguration is a missing/invalid env var. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnauthorized surfaces as HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest surfaces as HTTP 400.
	ErrBadRequest = errors.New("bad request")

	// ErrCarrierAPI is a failed call to the carrier's control REST API.
	// Handlers log it and continue; it never aborts a webhook response.
	ErrCarrierAPI = errors.New("carrier api error")

	// ErrInferenceUnreachable fails session setup and triggers cleanup.
	ErrInferenceUnreachable = errors.New("inference service unreachable")

	// ErrCodec marks a dropped, logged audio frame.
	ErrCodec = errors.New("codec error")

	// ErrDatastore is a failed datastore call. In the recap pipeline this
	// maps to a transient failure.
	ErrDatastore = errors.New("datastore error")

	// Recap-specific transient error kinds (spec.md §4.5 step 8).
	ErrAIRateLimit   = errors.New("ai rate limit")
	ErrAIServerError = errors.New("ai server error")
	ErrAIAPIError    = errors.New("ai api error")
	ErrAIParseError  = errors.New("ai parse error")
	ErrNetworkError  = errors.New("network error")

	// Recap-specific permanent error kinds.
	ErrCallNotFound = errors.New("call not found")
	ErrNoTranscript = errors.New("no transcript")

	// ErrUnknown is the default transient classification on recap.
	ErrUnknown = errors.New("unknown error")
)

// RecapErrorCode maps a recap error to its stored error_code string, and
// reports whether the failure is permanent (true) or transient (false).
func RecapErrorCode(err error) (code string, permanent bool) {
	switch {
	case errors.Is(err, ErrCallNotFound):
		return "CALL_NOT_FOUND", true
	case errors.Is(err, ErrNoTranscript):
		return "NO_TRANSCRIPT", true
	case errors.Is(err, ErrAIRateLimit):
		return "RATE_LIMIT", false
	case errors.Is(err, ErrAIServerError):
		return "AI_SERVER_ERROR", false
	case errors.Is(err, ErrAIAPIError):
		return "AI_API_ERROR", false
	case errors.Is(err, ErrAIParseError):
		return "AI_PARSE_ERROR", false
	case errors.Is(err, ErrNetworkError):
		return "NETWORK_ERROR", false
	case errors.Is(err, ErrDatastore):
		return "DATASTORE_ERROR", false
	default:
		return "UNKNOWN_ERROR", false
	}
}
