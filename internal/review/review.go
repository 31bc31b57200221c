// Package review implements the draft → submitted → decided lifecycle shared
// by profiles and contributions.
package review

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"archive/api/internal/archive"
)

type Event string

const (
	EventSubmit         Event = "submit"
	EventWithdraw       Event = "withdraw"
	EventApprove        Event = "approve"
	EventReject         Event = "reject"
	EventRequestChanges Event = "request_changes"
)

var (
	ErrInvalidTransition = errors.New("review: invalid transition")
	// ErrLocked is returned by Guard while content is awaiting review. Owner
	// facing callers discard it.
	ErrLocked = errors.New("review: content is locked for review")
	// ErrNotReady means the submission readiness predicate failed.
	ErrNotReady = errors.New("review: submission requirements not met")
)

var transitions = map[archive.Status]map[Event]archive.Status{
	archive.StatusDraft: {
		EventSubmit: archive.StatusSubmitted,
	},
	archive.StatusSubmitted: {
		EventWithdraw:       archive.StatusDraft,
		EventApprove:        archive.StatusApproved,
		EventReject:         archive.StatusRejected,
		EventRequestChanges: archive.StatusNeedsChanges,
	},
	archive.StatusRejected: {
		EventSubmit: archive.StatusSubmitted,
	},
	archive.StatusNeedsChanges: {
		EventSubmit: archive.StatusSubmitted,
	},
}

// ParseDecision converts a steward decision into its event.
func ParseDecision(value string) (Event, error) {
	switch Event(strings.ToLower(strings.TrimSpace(value))) {
	case EventApprove, "approved":
		return EventApprove, nil
	case EventReject, "rejected":
		return EventReject, nil
	case EventRequestChanges, "needs_changes":
		return EventRequestChanges, nil
	default:
		return "", fmt.Errorf("unknown decision %q", value)
	}
}

// Next returns the state reached from `from` on ev.
func Next(from archive.Status, ev Event) (archive.Status, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// Can reports whether ev is permitted from `from`.
func Can(from archive.Status, ev Event) bool {
	_, ok := transitions[from][ev]
	return ok
}

// Apply returns r advanced by ev. The reviewer note is only read for reject
// and request_changes; a resubmission keeps the previous note for history.
func Apply(r archive.Review, ev Event, note string, now time.Time) (archive.Review, error) {
	to, err := Next(r.Status, ev)
	if err != nil {
		return r, err
	}
	out := r
	out.Status = to
	at := now.UTC()
	switch ev {
	case EventSubmit:
		out.SubmittedAt = &at
	case EventWithdraw:
		out.SubmittedAt = nil
	case EventApprove:
		out.ApprovedAt = &at
	case EventReject, EventRequestChanges:
		out.RejectedAt = &at
		out.ReviewerNote = strings.TrimSpace(note)
	}
	return out, nil
}

// Guard is the silent read-only check used by every owner field setter. While
// status is submitted_for_review it returns current unchanged with ErrLocked.
func Guard[T any](status archive.Status, current, next T) (T, error) {
	if status == archive.StatusSubmitted {
		return current, ErrLocked
	}
	return next, nil
}

const (
	MinNameLength         = 2
	MinIntroductionLength = 50
	MaxIntroductionLength = 1200
)

// Requirement names one condition of the submission readiness predicate.
type Requirement string

const (
	RequirementName         Requirement = "name"
	RequirementIntroduction Requirement = "introduction"
)

// Readiness is the evaluated submission predicate.
type Readiness struct {
	Unmet []Requirement
}

func (r Readiness) Ready() bool {
	return len(r.Unmet) == 0
}

// Message describes the unmet conditions for display next to the disabled
// submit action.
func (r Readiness) Message() string {
	if r.Ready() {
		return ""
	}
	parts := make([]string, 0, len(r.Unmet))
	for _, req := range r.Unmet {
		switch req {
		case RequirementName:
			parts = append(parts, fmt.Sprintf("name must be at least %d characters", MinNameLength))
		case RequirementIntroduction:
			parts = append(parts, fmt.Sprintf("introduction must be between %d and %d characters", MinIntroductionLength, MaxIntroductionLength))
		}
	}
	return strings.Join(parts, "; ")
}

// CheckReadiness evaluates the predicate over trimmed character counts.
func CheckReadiness(name, introduction string) Readiness {
	var unmet []Requirement
	if utf8.RuneCountInString(strings.TrimSpace(name)) < MinNameLength {
		unmet = append(unmet, RequirementName)
	}
	introLen := utf8.RuneCountInString(strings.TrimSpace(introduction))
	if introLen < MinIntroductionLength || introLen > MaxIntroductionLength {
		unmet = append(unmet, RequirementIntroduction)
	}
	return Readiness{Unmet: unmet}
}
