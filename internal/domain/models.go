package domain

import (
	"fmt"
	"time"
)

// ConversionJob identifies one in-flight remote conversion
type ConversionJob struct {
	BatchID     string
	FileName    string
	SubmittedAt time.Time
}

// JobState enumerates the states a remote batch can report
type JobState int

const (
	StateWaiting JobState = iota + 1
	StatePending
	StateRunning
	StateConverting
	StateDone
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateConverting:
		return "converting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// JobStatus is a tagged variant over JobState. Only Done carries a locator and
// only Failed carries an error message; use the constructors below.
type JobStatus struct {
	State         JobState
	ResultLocator string
	ErrorMessage  string
}

func StatusWaiting() JobStatus    { return JobStatus{State: StateWaiting} }
func StatusPending() JobStatus    { return JobStatus{State: StatePending} }
func StatusRunning() JobStatus    { return JobStatus{State: StateRunning} }
func StatusConverting() JobStatus { return JobStatus{State: StateConverting} }

// StatusDone builds a Done status; an empty locator is representable so the
// controller can report it as missing.
func StatusDone(locator string) JobStatus {
	return JobStatus{State: StateDone, ResultLocator: locator}
}

func StatusFailed(message string) JobStatus {
	return JobStatus{State: StateFailed, ErrorMessage: message}
}

// IsTerminal reports whether no further polling is meaningful.
func (s JobStatus) IsTerminal() bool {
	return s.State == StateDone || s.State == StateFailed
}

// ExtractedImage is one embedded image found in a result container
type ExtractedImage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	Data       []byte `json:"data"` // base64 in JSON
	PageNumber *int   `json:"pageNumber,omitempty"`
}

// ResultMetadata summarises a conversion
type ResultMetadata struct {
	PageCount           int       `json:"pageCount"`
	Title               *string   `json:"title,omitempty"`
	ProcessingTimestamp time.Time `json:"processingTimestamp"`
}

// ConversionResult is the normalized output handed back to callers.
type ConversionResult struct {
	Markdown string           `json:"markdown"`
	Images   []ExtractedImage `json:"images"`
	Metadata ResultMetadata   `json:"metadata"`
}
