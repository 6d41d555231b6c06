package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
)

// Ensure PromptStore implements the interface.
var _ driven.PromptStore = (*PromptStore)(nil)

// PromptsDir is the prompt directory inside the store.
const PromptsDir = "prompts"

// PromptStore loads model prompts from user-editable files in
// <store>/prompts, falling back to the built-in defaults.
//
// Default files are written lazily on the first Load, never by the constructor.
type PromptStore struct {
	mu       sync.RWMutex
	dir      string
	cache    map[string]string
	initOnce sync.Once
}

//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var defaultPrompts = map[string]string{
	driven.PromptSummarize: `You write short summaries of documents for a personal memory store.
Summarize the document in at most three sentences. Keep names, numbers and decisions.
Do not add commentary or preamble. Answer with the summary only.`,

	driven.PromptAnalyze: `You split documents into their natural sections for a personal memory store.
Answer with a JSON array only. Each element is an object with "summary" (one sentence),
"content" (the verbatim section text) and optional "tags" (an object of short lowercase strings).
Return at most 50 parts. If the document has no meaningful structure, return [].`,
}

// DefaultPrompt returns the built-in prompt for name.
func DefaultPrompt(name string) (string, bool) {
	p, ok := defaultPrompts[name]
	return p, ok
}

// NewPromptStore creates a prompt store rooted at storeDir/prompts.
func NewPromptStore(storeDir string) *PromptStore {
	return &PromptStore{
		dir:   filepath.Join(storeDir, PromptsDir),
		cache: make(map[string]string),
	}
}

// Load returns the prompt for name. User files win over defaults;
// an empty user file falls back to the default.
func (s *PromptStore) Load(name string) (string, error) {
	s.initOnce.Do(s.initialise)

	s.mu.RLock()
	if prompt, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return prompt, nil
	}
	s.mu.RUnlock()

	prompt, err := s.loadFromFile(name)
	if err != nil || prompt == "" {
		if def, ok := defaultPrompts[name]; ok {
			return def, nil
		}
		if err == nil {
			err = os.ErrNotExist
		}
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	}

	s.mu.Lock()
	if cached, ok := s.cache[name]; ok {
		prompt = cached
	} else {
		s.cache[name] = prompt
	}
	s.mu.Unlock()
	return prompt, nil
}

// Reload clears the cache, forcing fresh loads from disk.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

// Dir returns the prompt directory path.
func (s *PromptStore) Dir() string {
	return s.dir
}

// initialise writes missing default prompt files. Failure is not fatal:
// Load keeps serving defaults.
func (s *PromptStore) initialise() {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		logger.Warn("create prompt directory: %v", err)
		return
	}
	for name, content := range defaultPrompts {
		path := filepath.Join(s.dir, name+".txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content+"\n"), 0600); err != nil {
				logger.Warn("create default prompt %q: %v", name, err)
				return
			}
		}
	}
}

func (s *PromptStore) loadFromFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name+".txt"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
