package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the terminal outcome of one processing attempt on an item.
type Status string

const (
	// StatusSuccess means the backend produced a caption for the item.
	StatusSuccess Status = "success"
	// StatusErrorDecode means the image could not be read or decoded.
	// Decode failures are terminal and never auto-retried.
	StatusErrorDecode Status = "error_decode"
	// StatusErrorBackendTransient means retryable backend failures
	// (network, timeout, rate limit) were exhausted. Eligible for the
	// default resume behavior on subsequent runs.
	StatusErrorBackendTransient Status = "error_backend_transient"
	// StatusErrorBackendPermanent means the backend failed in a way that
	// retrying cannot fix (auth, quota, unsupported input).
	StatusErrorBackendPermanent Status = "error_backend_permanent"
	// StatusSkipped means the item was excluded before the backend was
	// invoked (e.g. file size over the configured cap).
	StatusSkipped Status = "skipped"
)

// KnownStatuses lists every status value a journal record may carry.
var KnownStatuses = []Status{
	StatusSuccess,
	StatusErrorDecode,
	StatusErrorBackendTransient,
	StatusErrorBackendPermanent,
	StatusSkipped,
}

// IsValid reports whether s is one of the known status values.
func (s Status) IsValid() bool {
	for _, known := range KnownStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Record is one journal entry: the terminal outcome of processing one
// item. Records are append-only; corrections are made by appending a new
// record for the same key and letting replay's last-wins rule resolve.
type Record struct {
	ItemKey         string    `json:"item_key"`
	Status          Status    `json:"status"`
	Result          string    `json:"result,omitempty"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	BackendIdentity string    `json:"backend_identity,omitempty"`
	AttemptCount    int       `json:"attempt_count,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// StatusSet is a set of statuses, used as a resume filter: items whose
// latest record matches the set are treated as pending again.
type StatusSet map[Status]struct{}

// NewStatusSet builds a set from the given statuses.
func NewStatusSet(statuses ...Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// ParseStatusSet parses a comma-separated status list, e.g.
// "error_backend_transient,error_decode". Empty input yields an empty
// set; an unknown status is a configuration error so a typo cannot
// silently retry nothing.
func ParseStatusSet(s string) (StatusSet, error) {
	set := make(StatusSet)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		status := Status(part)
		if !status.IsValid() {
			return nil, fmt.Errorf("unknown status %q (known: %s)", part, joinStatuses(KnownStatuses))
		}
		set[status] = struct{}{}
	}
	return set, nil
}

func joinStatuses(statuses []Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// Contains reports whether the set includes the given status.
func (ss StatusSet) Contains(s Status) bool {
	_, ok := ss[s]
	return ok
}

// Item is one unit of work: a single photo identified by its path
// relative to the library root. Keys are stable across runs and use
// forward slashes regardless of platform.
type Item struct {
	Key  string
	Path string
	Size int64
}
