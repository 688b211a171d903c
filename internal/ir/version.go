package ir

// Version constants for the IR schema and the pipeline.
const (
	// IRVersion is the IR schema version persisted with every run.
	IRVersion = "1"

	// PipelineVersion is the proofpipe pipeline version.
	PipelineVersion = "0.3.0"
)
