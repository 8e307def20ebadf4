package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Context fields, carried from the request or job into every line.
const (
	FieldRequestID  = "request_id"
	FieldAnalysisID = "analysis_id"
	FieldComponent  = "component"
	FieldStage      = "stage"
	FieldProvider   = "provider" // remote, fixed, openai, gemini, template
)

// Event fields, attached to a single line.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldProgress   = "progress"
	FieldCode       = "code"
)
