package router

import "github.com/YoshitsuguKoike/deerun/internal/domain/workflow"

// Decision is the outcome of routing one request
type Decision interface {
	decision()
}

// StartWorkflow creates a new run
type StartWorkflow struct {
	Type   workflow.Type
	Name   string
	Prompt string
}

// ResumeWorkflow continues a persisted run
type ResumeWorkflow struct {
	Name string
}

// ShowStatus reports the persisted state of a run
type ShowStatus struct {
	Name string
}

// AbortWorkflow terminates a run
type AbortWorkflow struct {
	Name string
}

// DecideCheckpoint answers the checkpoint a run is waiting on
type DecideCheckpoint struct {
	Name   string
	Option string
	Note   string
}

// Reject carries the reason a request could not be routed
type Reject struct {
	Reason string
}

func (StartWorkflow) decision()    {}
func (ResumeWorkflow) decision()   {}
func (ShowStatus) decision()       {}
func (AbortWorkflow) decision()    {}
func (DecideCheckpoint) decision() {}
func (Reject) decision()           {}
