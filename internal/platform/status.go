package platform

import (
	"slices"
	"strings"
)

// Status is a platform-independent deployment status
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// IsTerminal reports whether polling can stop
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusTimeout
}

// Vocabulary lists the native statuses of a platform by meaning. Terminal
// statuses must be listed explicitly; anything unlisted is treated as in progress.
type Vocabulary struct {
	Success []string
	Failure []string
	Queued  []string
	// Transitional statuses look like failures but are expected while a
	// workload is (re)starting. They only count as failures once the grace
	// period has elapsed.
	Transitional []string
}

func contains(list []string, native string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, native) })
}

// Normalize maps a native status onto the normalized set
func (v Vocabulary) Normalize(native string) Status {
	native = strings.TrimSpace(native)
	switch {
	case contains(v.Success, native):
		return StatusFinished
	case contains(v.Failure, native):
		return StatusFailed
	case contains(v.Queued, native):
		return StatusQueued
	default:
		return StatusInProgress
	}
}

// IsTransitional reports whether native is a status that is only a failure outside the grace period
func (v Vocabulary) IsTransitional(native string) bool {
	return contains(v.Transitional, strings.TrimSpace(native))
}
