package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
)

// errStale marks a pending item that no longer applies to its document.
var errStale = errors.New("pending item is stale")

// analyzeMaxTokens bounds the decomposition answer.
const analyzeMaxTokens = 4096

// fallbackAnalyzePrompt is used when no prompt store is configured.
const fallbackAnalyzePrompt = `Split the document into its sections. Answer with a JSON array of
objects with "summary", "content" and optional "tags". Return [] if it has no structure.`

// Analyze queues decomposition of a document into parts.
//
// The text comes from the request, else from the document's source URI
// when it still has the stored content hash, else from the stored summary.
// Returns false when the document is absent or its current content was
// already decomposed.
func (k *Keeper) Analyze(ctx context.Context, req domain.AnalyzeRequest) (bool, error) {
	collection, err := k.target(req.Collection, req.ID)
	if err != nil {
		return false, err
	}
	doc, err := k.docs.Get(ctx, collection, req.ID)
	if err != nil || doc == nil {
		return false, err
	}
	if !req.Force && doc.Tags[domain.TagAnalyzedHash] == doc.ContentHash {
		logger.Debug("%s/%s already analyzed", collection, req.ID)
		return false, nil
	}

	content := req.Content
	if content == "" {
		content = k.sourceContent(ctx, doc)
	}
	if strings.TrimSpace(content) == "" {
		return false, fmt.Errorf("%w: nothing to analyze in %s", domain.ErrInvalidInput, req.ID)
	}

	err = k.pending.Enqueue(ctx, domain.PendingItem{
		ID:         doc.ID,
		Collection: collection,
		TaskType:   domain.TaskAnalyze,
		Content:    content,
		Metadata: map[string]string{
			domain.MetaContentHash: doc.ContentHash,
			domain.MetaContentType: doc.Tags[domain.TagContentType],
		},
		QueuedAt: k.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("queueing analysis: %w", err)
	}
	return true, nil
}

// sourceContent returns the text a document was written from, when it can
// still be read unchanged, or its summary.
func (k *Keeper) sourceContent(ctx context.Context, doc *domain.Document) string {
	uri := doc.Tags[domain.TagSourceURI]
	if uri == "" || k.fetcher == nil || !k.fetcher.Supports(uri) {
		return doc.Summary
	}
	fetched, err := k.fetch(ctx, uri)
	if err != nil {
		logger.Debug("Refetching %s: %v", uri, err)
		return doc.Summary
	}
	if domain.ContentHash([]byte(fetched.Content)) != doc.ContentHash {
		logger.Warn("%s changed since it was stored; analyzing the stored summary", uri)
		return doc.Summary
	}
	return fetched.Content
}

// process runs one pending item. errStale means the item was dropped
// without work.
func (k *Keeper) process(ctx context.Context, item domain.PendingItem) error {
	switch item.TaskType {
	case domain.TaskSummarize:
		return k.summarize(ctx, item)
	case domain.TaskAnalyze:
		return k.analyze(ctx, item)
	case domain.TaskReindex:
		return k.reindex(ctx, item)
	default:
		return fmt.Errorf("%w: unknown task type %q", errStale, item.TaskType)
	}
}

// currentFor returns the document an item was queued for, or errStale
// when it was deleted or its content changed since.
func (k *Keeper) currentFor(ctx context.Context, item domain.PendingItem) (*domain.Document, error) {
	doc, err := k.docs.Get(ctx, item.Collection, item.ID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s/%s no longer exists", errStale, item.Collection, item.ID)
	}
	if hash := item.Metadata[domain.MetaContentHash]; hash != "" && hash != doc.ContentHash {
		return nil, fmt.Errorf("%w: %s/%s content changed", errStale, item.Collection, item.ID)
	}
	return doc, nil
}

func (k *Keeper) summarize(ctx context.Context, item domain.PendingItem) error {
	doc, err := k.currentFor(ctx, item)
	if err != nil {
		return err
	}
	if !k.providers.HasSummarizer() {
		logger.Warn("No summarization provider; keeping the placeholder summary of %s", doc.ID)
		return fmt.Errorf("%w: %w", errStale, domain.ErrSummarizerUnavailable)
	}
	s, err := k.providers.Summarizer(ctx)
	if err != nil {
		return err
	}

	summary, err := s.Summarize(ctx, item.Content, doc.ID)
	if err != nil {
		return fmt.Errorf("summarizing: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return errors.New("summarizer returned an empty summary")
	}

	// The content may have changed while the model was running.
	if doc, err = k.currentFor(ctx, item); err != nil {
		return err
	}
	if _, err := k.docs.UpdateSummary(ctx, doc.Collection, doc.ID, summary); err != nil {
		return err
	}
	doc.Summary = summary
	k.updateIndexMetadata(ctx, doc, true)
	logger.Debug("Summarized %s/%s", doc.Collection, doc.ID)
	return nil
}

func (k *Keeper) analyze(ctx context.Context, item domain.PendingItem) error {
	doc, err := k.currentFor(ctx, item)
	if err != nil {
		return err
	}

	parts, err := k.decompose(ctx, doc, item.Content)
	if err != nil {
		return err
	}
	userTags := domain.UserTags(doc.Tags)
	for i := range parts {
		parts[i].PartNum = i + 1
		parts[i].Tags = domain.MergeTags(userTags, parts[i].Tags)
	}

	previous, err := k.docs.ListParts(ctx, doc.Collection, doc.ID)
	if err != nil {
		return err
	}
	if err := k.docs.ReplaceParts(ctx, doc.Collection, doc.ID, parts); err != nil {
		return err
	}
	if stale := partKeys(doc.ID, len(previous)); len(stale) > 0 {
		k.forEachBinding(ctx, doc.Collection, "dropping part entries", func(index string) error {
			_, err := k.vectors.DeleteEntries(ctx, index, stale)
			return err
		})
	}

	doc.Tags = domain.ApplySystemTags(doc.Tags, map[string]string{domain.TagAnalyzedHash: doc.ContentHash})
	if _, err := k.docs.UpdateTags(ctx, doc.Collection, doc.ID, doc.Tags); err != nil {
		return err
	}
	k.updateIndexMetadata(ctx, doc, false)

	if err := k.indexParts(ctx, doc, parts); err != nil {
		return err
	}
	logger.Debug("Analyzed %s/%s into %d parts", doc.Collection, doc.ID, len(parts))
	return nil
}

// decompose splits content into parts, asking the summarization provider
// first and falling back to the sectioner.
func (k *Keeper) decompose(ctx context.Context, doc *domain.Document, content string) ([]domain.Part, error) {
	if k.providers.HasSummarizer() {
		parts, err := k.generateParts(ctx, content)
		switch {
		case err != nil:
			logger.Warn("Model decomposition of %s failed, using sections: %v", doc.ID, err)
		case len(parts) > 0:
			return parts, nil
		default:
			logger.Debug("Model found no structure in %s, using sections", doc.ID)
		}
	}

	if k.sectioner != nil {
		parts, err := k.sectioner.Split(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("sectioning %s: %w", doc.ID, err)
		}
		if len(parts) > 0 {
			return parts, nil
		}
	}
	return []domain.Part{{Summary: doc.Summary, Content: content}}, nil
}

func (k *Keeper) generateParts(ctx context.Context, content string) ([]domain.Part, error) {
	s, err := k.providers.Summarizer(ctx)
	if err != nil {
		return nil, err
	}
	prompt := fallbackAnalyzePrompt
	if k.prompts != nil {
		if prompt, err = k.prompts.Load(driven.PromptAnalyze); err != nil {
			return nil, err
		}
	}

	answer, err := s.Generate(ctx, prompt, content, analyzeMaxTokens)
	if err != nil {
		return nil, err
	}
	return parseParts(answer)
}

type generatedPart struct {
	Summary string            `json:"summary"`
	Content string            `json:"content"`
	Tags    map[string]string `json:"tags"`
}

// parseParts reads the JSON array in a model answer. Code fences and
// surrounding prose are ignored.
func parseParts(answer string) ([]domain.Part, error) {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end < start {
		if strings.TrimSpace(answer) == "" {
			return nil, nil
		}
		return nil, errors.New("answer contains no JSON array")
	}

	var generated []generatedPart
	if err := json.Unmarshal([]byte(answer[start:end+1]), &generated); err != nil {
		return nil, fmt.Errorf("parsing parts: %w", err)
	}

	parts := make([]domain.Part, 0, len(generated))
	for _, g := range generated {
		summary := strings.TrimSpace(g.Summary)
		text := strings.TrimSpace(g.Content)
		if summary == "" && text == "" {
			continue
		}
		if summary == "" {
			summary = truncateText(text, 160)
		}
		tags, _, err := domain.NormalizeUserTags(g.Tags)
		if err != nil {
			tags = nil
		}
		parts = append(parts, domain.Part{Summary: summary, Content: text, Tags: tags})
	}
	return parts, nil
}

// indexParts embeds parts and stores them under their part keys.
func (k *Keeper) indexParts(ctx context.Context, doc *domain.Document, parts []domain.Part) error {
	if len(parts) == 0 || !k.providers.HasEmbedder() {
		return nil
	}
	emb, err := k.providers.Embedder(ctx)
	if err != nil {
		return err
	}

	texts := make([]string, len(parts))
	for i, p := range parts {
		text := p.Content
		if text == "" {
			text = p.Summary
		}
		texts[i] = truncateText(text, maxEmbedBytes)
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding parts: %w", err)
	}
	if len(vecs) != len(parts) {
		return fmt.Errorf("embedding parts: got %d vectors for %d parts", len(vecs), len(parts))
	}

	binding, err := k.bindingFor(ctx, doc.Collection, identityOf(emb, vecs[0]))
	if err != nil {
		return err
	}
	for i, p := range parts {
		err := k.vectors.UpsertPart(ctx, binding.IndexName, doc.ID, p.PartNum, domain.VectorEntry{
			Embedding: vecs[i],
			Summary:   p.Summary,
			Tags:      p.Tags,
		})
		if err != nil {
			return fmt.Errorf("indexing part %d: %w", p.PartNum, err)
		}
	}
	return nil
}
