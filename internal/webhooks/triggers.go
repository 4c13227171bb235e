package webhooks

import (
	"fmt"
	"strings"
)

// Tier is the entity level a trigger belongs to.
type Tier uint8

const (
	tierInvalid Tier = iota
	TierDocument
	TierIngestJob
	tierCount
)

// Status is a lifecycle state shared by documents and ingest jobs.
type Status uint8

const (
	statusInvalid Status = iota
	StatusQueued
	StatusProcessing
	StatusReady
	StatusError
	StatusDeleted
	StatusQueuedForResync
	StatusQueuedForDeletion
	statusCount
)

var tierNames = [...]string{
	tierInvalid:   "",
	TierDocument:  "document",
	TierIngestJob: "ingest_job",
}

var statusNames = [...]string{
	statusInvalid:           "",
	StatusQueued:            "queued",
	StatusProcessing:        "processing",
	StatusReady:             "ready",
	StatusError:             "error",
	StatusDeleted:           "deleted",
	StatusQueuedForResync:   "queued_for_resync",
	StatusQueuedForDeletion: "queued_for_deletion",
}

// Adding a tier or status without a name fails to compile.
var (
	_ = [1]struct{}{}[len(tierNames)-int(tierCount)]
	_ = [1]struct{}{}[len(statusNames)-int(statusCount)]
)

func (t Tier) String() string {
	if t >= tierCount {
		return ""
	}
	return tierNames[t]
}

func (s Status) String() string {
	if s >= statusCount {
		return ""
	}
	return statusNames[s]
}

// Trigger identifies a lifecycle transition a webhook can subscribe to.
// The set is closed: values are only obtainable from the package variables
// below or from ParseTrigger.
type Trigger struct {
	tier   Tier
	status Status
}

var (
	DocumentQueued            = Trigger{TierDocument, StatusQueued}
	DocumentProcessing        = Trigger{TierDocument, StatusProcessing}
	DocumentReady             = Trigger{TierDocument, StatusReady}
	DocumentError             = Trigger{TierDocument, StatusError}
	DocumentDeleted           = Trigger{TierDocument, StatusDeleted}
	DocumentQueuedForResync   = Trigger{TierDocument, StatusQueuedForResync}
	DocumentQueuedForDeletion = Trigger{TierDocument, StatusQueuedForDeletion}

	IngestJobQueued            = Trigger{TierIngestJob, StatusQueued}
	IngestJobProcessing        = Trigger{TierIngestJob, StatusProcessing}
	IngestJobReady             = Trigger{TierIngestJob, StatusReady}
	IngestJobError             = Trigger{TierIngestJob, StatusError}
	IngestJobDeleted           = Trigger{TierIngestJob, StatusDeleted}
	IngestJobQueuedForResync   = Trigger{TierIngestJob, StatusQueuedForResync}
	IngestJobQueuedForDeletion = Trigger{TierIngestJob, StatusQueuedForDeletion}
)

// AllTriggers returns every trigger in vocabulary order.
func AllTriggers() []Trigger {
	out := make([]Trigger, 0, int(tierCount-1)*int(statusCount-1))
	for t := TierDocument; t < tierCount; t++ {
		for s := StatusQueued; s < statusCount; s++ {
			out = append(out, Trigger{t, s})
		}
	}
	return out
}

// ParseTrigger parses the wire name of a trigger, e.g. "document.ready".
func ParseTrigger(name string) (Trigger, error) {
	tierName, statusName, ok := strings.Cut(name, ".")
	if !ok {
		return Trigger{}, &ValidationError{Field: "trigger", Reason: fmt.Sprintf("unknown trigger %q", name)}
	}
	var tr Trigger
	for t := TierDocument; t < tierCount; t++ {
		if tierNames[t] == tierName {
			tr.tier = t
		}
	}
	for s := StatusQueued; s < statusCount; s++ {
		if statusNames[s] == statusName {
			tr.status = s
		}
	}
	if !tr.Valid() {
		return Trigger{}, &ValidationError{Field: "trigger", Reason: fmt.Sprintf("unknown trigger %q", name)}
	}
	return tr, nil
}

// ParseTriggers parses a list of trigger names, dropping duplicates.
func ParseTriggers(names []string) ([]Trigger, error) {
	seen := make(map[Trigger]bool, len(names))
	out := make([]Trigger, 0, len(names))
	for _, n := range names {
		tr, err := ParseTrigger(n)
		if err != nil {
			return nil, err
		}
		if seen[tr] {
			continue
		}
		seen[tr] = true
		out = append(out, tr)
	}
	return out, nil
}

// Valid reports whether t is part of the vocabulary. The zero Trigger is not.
func (t Trigger) Valid() bool {
	return t.tier > tierInvalid && t.tier < tierCount &&
		t.status > statusInvalid && t.status < statusCount
}

func (t Trigger) Tier() Tier     { return t.tier }
func (t Trigger) Status() Status { return t.status }

func (t Trigger) String() string {
	if !t.Valid() {
		return ""
	}
	return tierNames[t.tier] + "." + statusNames[t.status]
}

func (t Trigger) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("webhooks: cannot marshal invalid trigger")
	}
	return []byte(t.String()), nil
}

func (t *Trigger) UnmarshalText(b []byte) error {
	tr, err := ParseTrigger(string(b))
	if err != nil {
		return err
	}
	*t = tr
	return nil
}

// TriggerNames renders triggers by wire name.
func TriggerNames(ts []Trigger) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}
