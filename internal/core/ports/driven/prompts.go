package driven

// Prompt names.
const (
	// PromptSummarize is the system prompt for document summaries.
	PromptSummarize = "summarize"

	// PromptAnalyze is the system prompt for structural decomposition.
	// The model must answer with a JSON array of parts.
	PromptAnalyze = "analyze"
)

// PromptStore loads model prompts, falling back to built-in defaults.
type PromptStore interface {
	// Load returns the prompt text for name.
	Load(name string) (string, error)
}
