// Package window builds bounded sliding-window context from prior
// narrative units, detects continuity breaks between consecutive builds,
// and repairs them by rebuilding from the store.
package window

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/provider"
	"github.com/storyloom/storyloom/internal/store"
)

// Defaults applied by NewWindow when Config leaves a field zero.
const (
	DefaultSize           = 3
	DefaultWordTarget     = 1500
	DefaultBreakThreshold = 0.3
)

// Keyword lists for the deterministic fallback digest, used when no
// summarizer is configured or summarization fails.
var (
	defaultEventKeywords = []string{
		"discovered", "decided", "arrived", "fought",
		"learned", "gained", "lost", "escaped",
	}
	defaultCharacterKeywords = []string{
		"protagonist", "stranger", "mother", "friend", "enemy", "mentor",
	}
)

const snippetLimit = 60

// Summarizer produces a model-written state card for a unit. *provider.Router
// satisfies it; a nil Summarizer switches the window to fallback digests.
type Summarizer interface {
	Invoke(ctx context.Context, opts provider.InvokeOptions, messages []provider.Message) (string, error)
}

// Config tunes one Window instance.
type Config struct {
	// Size is the number of prior units kept in the window.
	Size int

	// WordTarget is the configured output length for one unit; the
	// context budget is twice this value.
	WordTarget int

	// BreakThreshold is the similarity below which two consecutive
	// contexts are considered discontinuous.
	BreakThreshold float64

	EventKeywords     []string
	CharacterKeywords []string
}

func (c *Config) applyDefaults() {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.WordTarget <= 0 {
		c.WordTarget = DefaultWordTarget
	}
	if c.BreakThreshold <= 0 {
		c.BreakThreshold = DefaultBreakThreshold
	}
	if len(c.EventKeywords) == 0 {
		c.EventKeywords = defaultEventKeywords
	}
	if len(c.CharacterKeywords) == 0 {
		c.CharacterKeywords = defaultCharacterKeywords
	}
}

// Window assembles prior-unit context with per-unit digests and caches the
// result per target unit. All cache state lives on the instance behind one
// mutex.
type Window struct {
	cfg        Config
	units      store.UnitStore
	summarizer Summarizer
	logger     *observability.Logger
	metrics    *observability.Metrics

	mu    sync.Mutex
	cache map[int]string
}

// NewWindow creates a window over the given unit store. summarizer and
// metrics may be nil.
func NewWindow(cfg Config, units store.UnitStore, summarizer Summarizer, logger *observability.Logger, metrics *observability.Metrics) *Window {
	cfg.applyDefaults()
	return &Window{
		cfg:        cfg,
		units:      units,
		summarizer: summarizer,
		logger:     logger,
		metrics:    metrics,
		cache:      make(map[int]string),
	}
}

// SelectWindow returns the ids from available that are strictly less than
// currentID, keeping only the last n, in ascending order. available must be
// sorted ascending.
func SelectWindow(currentID int, available []int, n int) []int {
	prior := make([]int, 0, len(available))
	for _, id := range available {
		if id < currentID {
			prior = append(prior, id)
		}
	}
	if n > 0 && len(prior) > n {
		prior = prior[len(prior)-n:]
	}
	return prior
}

// BuildContext assembles the context for currentID from the prior units in
// available. Repeat calls for an unchanged store are served from the cache
// without touching the summarizer. Build failures degrade per unit; the
// result may be empty but BuildContext never fails.
func (w *Window) BuildContext(ctx context.Context, currentID int, available []int) string {
	w.mu.Lock()
	if cached, ok := w.cache[currentID]; ok {
		w.mu.Unlock()
		return cached
	}
	w.mu.Unlock()

	built := w.build(ctx, currentID, available)

	w.mu.Lock()
	w.cache[currentID] = built
	w.mu.Unlock()

	if w.metrics != nil {
		outcome := "ok"
		if built == "" {
			outcome = "empty"
		}
		w.metrics.ContextBuildCounter.WithLabelValues(outcome).Inc()
	}
	return built
}

func (w *Window) build(ctx context.Context, currentID int, available []int) string {
	ids := SelectWindow(currentID, available, w.cfg.Size)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		unit, err := w.units.Get(ctx, id)
		if err != nil {
			w.logger.Warn(ctx, "unit unavailable for context", "unit", id, "error", err.Error())
			continue
		}
		parts = append(parts, w.digest(ctx, unit))
	}
	return strings.Join(parts, "\n\n")
}

// digest returns the compact representation of one unit: a persisted state
// card when present, a freshly summarized card otherwise, or the keyword
// fallback when no summarizer is available.
func (w *Window) digest(ctx context.Context, unit store.Unit) string {
	if unit.StateCard != "" {
		return unitHeader(unit.ID) + "\n" + unit.StateCard
	}
	if w.summarizer != nil {
		card, err := w.summarize(ctx, unit)
		if err == nil {
			return unitHeader(unit.ID) + "\n" + card
		}
		w.logger.Warn(ctx, "summarization failed, using fallback digest",
			"unit", unit.ID, "error", err.Error())
	}
	return w.extractKeyInfo(unit)
}

const summaryPrompt = "Condense the following chapter into a short state card: " +
	"who is present, what changed, and any open threads. Plain lines, no preamble.\n\n"

func (w *Window) summarize(ctx context.Context, unit store.Unit) (string, error) {
	card, err := w.summarizer.Invoke(ctx,
		provider.InvokeOptions{Stage: provider.StageContextSummary},
		[]provider.Message{{Role: provider.RoleUser, Content: summaryPrompt + unit.Text}})
	if err != nil {
		return "", err
	}
	card = strings.TrimSpace(card)
	if card == "" {
		return "", fmt.Errorf("unit %d: empty summary", unit.ID)
	}
	// Persist so each unit is summarized at most once. A failed write is
	// logged and the card still used for this build.
	if err := w.units.PutStateCard(ctx, unit.ID, card); err != nil {
		w.logger.Warn(ctx, "state card not persisted", "unit", unit.ID, "error", err.Error())
	}
	return card, nil
}

// extractKeyInfo is the deterministic digest: title line, keyword-matched
// character and event lines, and opening/closing snippets.
func (w *Window) extractKeyInfo(unit store.Unit) string {
	lines := strings.Split(unit.Text, "\n")

	title := ""
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			title = strings.TrimSpace(strings.TrimLeft(line, "# "))
			break
		}
	}

	var events, characters []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if matchesAny(lower, w.cfg.EventKeywords) {
			events = append(events, line)
		}
		if matchesAny(lower, w.cfg.CharacterKeywords) {
			characters = append(characters, line)
		}
	}

	var b strings.Builder
	b.WriteString(unitHeader(unit.ID))
	if title != "" {
		b.WriteString(" ")
		b.WriteString(title)
	}
	b.WriteString("\n")
	if len(characters) > 0 {
		b.WriteString("Characters: " + strings.Join(clip(characters, 3), "; ") + "\n")
	}
	if len(events) > 0 {
		b.WriteString("Key events: " + strings.Join(clip(events, 3), "; ") + "\n")
	}
	if first := firstNonEmpty(lines); first != "" {
		b.WriteString("Opens: " + snippet(first) + "\n")
	}
	if last := lastNonEmpty(lines); last != "" {
		b.WriteString("Closes: " + snippet(last) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// OptimizeForOutline fits the context to the current unit's outline. An
// empty context is replaced with a minimal one synthesized from the
// outline. A context longer than 1.5x the budget (word target x 2) is
// trimmed to whole lines in document order: marker lines are always kept,
// other lines only while they fit the budget. Document order is preserved
// so each line stays under its own unit header; mid-line truncation never
// happens.
func (w *Window) OptimizeForOutline(currentID int, contextStr string, outline store.Outline) string {
	if contextStr == "" {
		return w.basicContext(currentID, outline)
	}

	budget := w.cfg.WordTarget * 2
	if len(contextStr) <= budget*3/2 {
		return contextStr
	}

	lines := strings.Split(contextStr, "\n")
	kept := make([]string, 0, len(lines))
	total := 0
	for _, line := range lines {
		if !isMarkerLine(line) && total+len(line)+1 > budget {
			continue
		}
		kept = append(kept, line)
		total += len(line) + 1
	}
	return strings.Join(kept, "\n")
}

// basicContext synthesizes a starting context from the outline when no
// prior units exist.
func (w *Window) basicContext(currentID int, outline store.Outline) string {
	var b strings.Builder
	b.WriteString(unitHeader(currentID))
	if outline.Title != "" {
		b.WriteString(" " + outline.Title)
	}
	b.WriteString("\n")
	if outline.Summary != "" {
		b.WriteString("Summary: " + outline.Summary + "\n")
	}
	if len(outline.Characters) > 0 {
		b.WriteString("Characters: " + strings.Join(outline.Characters, "; ") + "\n")
	}
	if len(outline.Events) > 0 {
		b.WriteString("Key events: " + strings.Join(outline.Events, "; ") + "\n")
	}
	b.WriteString(fmt.Sprintf("Word target: %d\n", w.cfg.WordTarget))
	return strings.TrimRight(b.String(), "\n")
}

// Similarity is the Jaccard coefficient over lower-cased whitespace tokens.
// It is 0 when either side has no tokens.
func Similarity(a, b string) float64 {
	wordsA := tokenSet(a)
	wordsB := tokenSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	intersection := 0
	for word := range wordsA {
		if _, ok := wordsB[word]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

// DetectBreak reports whether two consecutive contexts diverge enough to
// signal a continuity break. Heuristic, not a proof.
func (w *Window) DetectBreak(newContext, previousContext string) bool {
	return Similarity(newContext, previousContext) < w.cfg.BreakThreshold
}

// Repair rebuilds the context for currentID from a fresh store scan,
// bypassing and atomically replacing the cache entry, then re-checks the
// break against the previous unit's cached context. A still-broken context
// yields "".
func (w *Window) Repair(ctx context.Context, currentID int) string {
	w.logger.Warn(ctx, "context break detected, rebuilding", "unit", currentID)

	available, err := w.units.IDs(ctx)
	if err != nil {
		w.logger.Error(ctx, "store rescan failed", "error", err.Error())
		return ""
	}

	rebuilt := w.build(ctx, currentID, available)

	w.mu.Lock()
	w.cache[currentID] = rebuilt
	previous := w.cache[currentID-1]
	w.mu.Unlock()

	repaired := true
	if currentID > 1 && previous != "" && w.DetectBreak(rebuilt, previous) {
		w.logger.Error(ctx, "context break persists after rebuild", "unit", currentID)
		rebuilt = ""
		repaired = false
	}
	if w.metrics != nil {
		w.metrics.ContextBreakCounter.WithLabelValues(fmt.Sprintf("%t", repaired)).Inc()
	}
	return rebuilt
}

// Cached returns the cached context for a unit id, if any.
func (w *Window) Cached(id int) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cached, ok := w.cache[id]
	return cached, ok
}

// ClearCache drops all cached contexts.
func (w *Window) ClearCache() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache = make(map[int]string)
}

func unitHeader(id int) string {
	return fmt.Sprintf("=== Unit %d ===", id)
}

func isMarkerLine(line string) bool {
	return strings.Contains(line, "=== Unit") ||
		strings.Contains(line, "Characters:") ||
		strings.Contains(line, "Key events:")
}

func matchesAny(line string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(line, keyword) {
			return true
		}
	}
	return false
}

func clip(lines []string, max int) []string {
	if len(lines) > max {
		return lines[:max]
	}
	return lines
}

func firstNonEmpty(lines []string) string {
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func snippet(line string) string {
	runes := []rune(line)
	if len(runes) <= snippetLimit {
		return line
	}
	return string(runes[:snippetLimit]) + "..."
}

func tokenSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}
