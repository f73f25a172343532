package model

import "time"

// Sweep represents a single benchmark sweep recorded in a result directory.
type Sweep struct {
	// Unique ID for this sweep (16 random bytes, hex encoded)
	ID string `json:"id"`
	// Timestamp when the sweep started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Duration of the sweep
	Duration time.Duration `json:"duration"`
	// Whether the sweep only printed its commands
	DryRun bool `json:"dry_run,omitempty"`
	// Whether the kernel facility was present when the sweep started
	KernelFacility bool `json:"kernel_facility"`
	// Git information of the checkout that drove the sweep
	Git *Git `json:"git,omitempty"`
	// Identities of the tests selected for the sweep
	Tests []string `json:"tests"`
	// Per test and step outcome
	Steps []StepOutcome `json:"steps,omitempty"`
	// Error that aborted the sweep, if any
	Error string `json:"error,omitempty"`
	// Artifacts written next to the logs (chart, breakdown profile)
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
}

// StepOutcome records whether one step of one test succeeded.
type StepOutcome struct {
	Test  string `json:"test"`
	Step  string `json:"step"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether the step failed.
func (s StepOutcome) Failed() bool {
	return s.Error != ""
}

// ArtifactType identifies the type of artifact
type ArtifactType uint8

const (
	ArtifactTypeChart ArtifactType = iota
	ArtifactTypeBreakdownProfile
	ArtifactTypeAggregate
)

// Artifact represents a file generated by a sweep
type Artifact struct {
	Type ArtifactType `json:"type"`
	Size uint64       `json:"size"`
	File string       `json:"file"` // relative to result dir
}
