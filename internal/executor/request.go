package executor

import "time"

// FileData is a single file in a multi-file project.
type FileData struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
	IsMain  bool   `json:"is_main"`
}

// Request is the reproducibility payload: everything needed to repeat an
// execution. It is serialized verbatim into the run record at admission.
type Request struct {
	AttemptID    int64      `json:"attempt_id"`
	Language     string     `json:"language"`
	Files        []FileData `json:"files"`
	Stdin        string     `json:"stdin"`
	BuildCommand string     `json:"build_command,omitempty"`
	RunCommand   string     `json:"run_command,omitempty"`
}

// PhaseResult holds one phase's captured output. ExitCode is -1 when the
// process was killed before exiting on its own.
type PhaseResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

type OutcomeStatus string

const (
	OutcomeSuccess          OutcomeStatus = "success"
	OutcomeError            OutcomeStatus = "error"
	OutcomeTimeout          OutcomeStatus = "timeout"
	OutcomeCompilationError OutcomeStatus = "compilation_error"
)

// Outcome pairs run-phase results with the (possibly nil) build-phase
// results. Build is nil when no build step applied; Run is nil only when
// the build failed and the run phase was never attempted.
type Outcome struct {
	Status OutcomeStatus
	Build  *PhaseResult
	Run    *PhaseResult
}
