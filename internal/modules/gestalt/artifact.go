package gestalt

// Artifact file names. Files holds exactly the successful stages' outputs.
const (
	FileQuestionHTML = "question.html"
	FileSolutionHTML = "solution.html"
	FileServerJS     = "server.js"
	FileServerPY     = "server.py"
)

// Metadata is the question metadata block composed by the generator. The
// resource service owns the persisted metadata.json (it adds id and
// timestamps after the record exists).
type Metadata struct {
	Title       string   `json:"title"`
	IsAdaptive  bool     `json:"isAdaptive"`
	AIGenerated bool     `json:"ai_generated"`
	Topics      []string `json:"topics"`
	Courses     []string `json:"courses,omitempty"`
	Languages   []string `json:"languages"`
	QType       string   `json:"qtype"`
}

// StageFailure is the structured failure payload for one stage.
type StageFailure struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Artifact is one generated question bundle, owned by the pipeline until it
// is handed to the resource service.
type Artifact struct {
	Metadata Metadata
	Files    map[string][]byte
	// Warnings records non-essential stage failures.
	Warnings []StageFailure
	// Trace records per-stage diagnostics (node sequences, tool calls).
	Trace map[string]any
}

// HasServerScript reports whether at least one server script was produced.
func (a *Artifact) HasServerScript() bool {
	if a == nil {
		return false
	}
	_, js := a.Files[FileServerJS]
	_, py := a.Files[FileServerPY]
	return js || py
}
