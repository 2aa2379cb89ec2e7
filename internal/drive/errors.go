// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrNotAuthenticated means no usable OAuth token is on disk.
	ErrNotAuthenticated = errors.New("drive: not authenticated")

	// ErrNotFound maps a Drive 404 onto a sentinel callers can test with
	// errors.Is.
	ErrNotFound = errors.New("drive: file not found")

	// ErrRateLimited maps Drive 429 / quota responses.
	ErrRateLimited = errors.New("drive: rate limited")
)

// isNotFound reports whether err is a Drive 404.
func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// isRateLimited reports whether err is a 429 or a Drive quota rejection.
func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	for _, e := range apiErr.Errors {
		if e.Reason == "userRateLimitExceeded" || e.Reason == "rateLimitExceeded" {
			return true
		}
	}
	return false
}

// isTransient reports whether a GET is worth retrying: network faults,
// 5xx, and rate limits. 4xx responses are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if isRateLimited(err) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// mapError converts SDK errors into the package sentinels where one
// applies, keeping the upstream detail as text.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case isRateLimited(err):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	default:
		return err
	}
}
