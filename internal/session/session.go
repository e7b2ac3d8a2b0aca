// Package session holds the verification session domain: statuses and the
// transitions allowed between them, extracted document fields, and the
// storage key layout of captured artifacts.
package session

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a verification session.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusError      Status = "error"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the session's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPipelineInProgress is returned when a run is attempted while
	// another run holds the session in processing.
	ErrPipelineInProgress = errors.New("verification already in progress")
	// ErrStatusNotClientSettable is returned when a client tries to write a
	// status only the pipeline may write.
	ErrStatusNotClientSettable = errors.New("status is not client settable")
	// ErrUnknownStatus is returned when parsing an unrecognised status.
	ErrUnknownStatus = errors.New("unknown status")
)

// Writer names who performs a status write. The pipeline and the capture
// client own disjoint edges of the lifecycle.
type Writer int

const (
	WriterPipeline Writer = iota
	WriterClient
)

var statuses = []Status{StatusWaiting, StatusProcessing, StatusSuccess, StatusFailed, StatusError}

var edges = map[Writer]map[Status][]Status{
	WriterPipeline: {
		StatusWaiting:    {StatusProcessing},
		StatusProcessing: {StatusSuccess, StatusFailed, StatusError},
	},
	// The client may abandon a session before the pipeline starts, and
	// failed/error -> waiting is the explicit restart that opens a new
	// generation. It never touches a session that is processing.
	WriterClient: {
		StatusWaiting: {StatusFailed, StatusError},
		StatusFailed:  {StatusWaiting},
		StatusError:   {StatusWaiting},
	},
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range statuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// IsTerminal reports whether no further pipeline action follows s.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusError
}

// CanTransition reports whether w may move a session from -> to.
func CanTransition(w Writer, from, to Status) bool {
	for _, next := range edges[w][from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors lists every status from which w may move a session to to.
// Conditional updates use it as the expected prior status set.
func Predecessors(w Writer, to Status) []Status {
	var out []Status
	for _, from := range statuses {
		if CanTransition(w, from, to) {
			out = append(out, from)
		}
	}
	return out
}

// ClientSettable reports whether a capture client may write s directly.
// processing and success are owned by the pipeline.
func ClientSettable(s Status) bool {
	switch s {
	case StatusWaiting, StatusFailed, StatusError:
		return true
	default:
		return false
	}
}

// Address is the postal address printed on an identity card.
type Address struct {
	Unit     string `json:"unit"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
}

// BackFields holds the fields read from the back of the card.
type BackFields struct {
	NationalID string `json:"nricNumber"`
}

// ExtractedFields is the structured result of document extraction.
type ExtractedFields struct {
	Name       string     `json:"name"`
	NationalID string     `json:"nricNumber"`
	Address    Address    `json:"address"`
	Gender     string     `json:"gender"`
	Back       BackFields `json:"back"`
}

// IsEmpty reports whether extraction produced nothing usable.
func (f *ExtractedFields) IsEmpty() bool {
	if f == nil {
		return true
	}
	return strings.TrimSpace(f.Name) == "" &&
		strings.TrimSpace(f.NationalID) == "" &&
		strings.TrimSpace(f.Back.NationalID) == ""
}

// NameMatches compares a claimed name with the extracted one,
// case-insensitively and ignoring surrounding whitespace.
func NameMatches(claimed, extracted string) bool {
	claimed = strings.TrimSpace(claimed)
	extracted = strings.TrimSpace(extracted)
	if claimed == "" || extracted == "" {
		return false
	}
	return strings.EqualFold(claimed, extracted)
}
