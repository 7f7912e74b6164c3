package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// ClassificationConfig is the immutable tuning of the hybrid classifier.
type ClassificationConfig struct {
	ConfidenceThreshold float64
	HintBoost           float64
	CacheTTL            time.Duration
	// Labels drive the untrained placeholder; a loaded model reports its own.
	Labels []string
}

func DefaultClassificationConfig() ClassificationConfig {
	return ClassificationConfig{
		ConfidenceThreshold: 0.5,
		HintBoost:           0.3,
		CacheTTL:            time.Hour,
		Labels:              domain.DefaultLabels(),
	}
}

// Untrained placeholder confidence bounds.
const (
	untrainedMinConfidence = 0.3
	untrainedMaxConfidence = 0.7
)

// strategyOutcome is what one classification strategy produced.
type strategyOutcome struct {
	category   string
	confidence float64
	rationale  string
	source     domain.ClassifierSource
}

// classificationStrategy returns an error when it cannot decide.
type classificationStrategy struct {
	name string
	run  func(ctx context.Context, text string, hint *domain.RuleHint) (strategyOutcome, error)
}

// ClassificationEngine is the hybrid rule + model + remote classifier.
type ClassificationEngine struct {
	cfg    ClassificationConfig
	rules  ports.ClassificationRuleStore
	cache  ports.ClassificationCache
	model  ports.ProbabilityModel
	remote ports.RemoteClassifier

	randFloat func() float64
	randIntN  func(int) int
}

type ClassificationOption func(*ClassificationEngine)

// WithRandomSource replaces the placeholder randomness, for deterministic tests.
func WithRandomSource(r *rand.Rand) ClassificationOption {
	return func(e *ClassificationEngine) {
		e.randFloat = r.Float64
		e.randIntN = r.IntN
	}
}

// NewClassificationEngine builds the engine. A nil model selects the
// untrained placeholder path; a nil remote makes the fallback fail closed.
func NewClassificationEngine(
	cfg ClassificationConfig,
	rules ports.ClassificationRuleStore,
	cache ports.ClassificationCache,
	model ports.ProbabilityModel,
	remote ports.RemoteClassifier,
	opts ...ClassificationOption,
) *ClassificationEngine {
	def := DefaultClassificationConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.HintBoost <= 0 {
		cfg.HintBoost = def.HintBoost
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = def.Labels
	}

	e := &ClassificationEngine{
		cfg:       cfg,
		rules:     rules,
		cache:     cache,
		model:     model,
		remote:    remote,
		randFloat: rand.Float64,
		randIntN:  rand.IntN,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ClassificationEngine) Classify(ctx context.Context, documentName, text string) (domain.ClassificationResult, error) {
	digest := textDigest(text)
	if cached, ok := e.cachedResult(ctx, documentName, digest); ok {
		return cached, nil
	}

	hint := e.matchRule(ctx, text)

	var result domain.ClassificationResult
	if e.model == nil {
		result = e.untrained(documentName, hint)
	} else {
		outcome := e.runStrategies(ctx, text, hint)
		if err := ctx.Err(); err != nil {
			return domain.ClassificationResult{}, err
		}
		result = e.gate(documentName, hint, outcome)
	}
	result.TextDigest = digest
	result.CreatedAt = time.Now().UTC()

	if e.cache != nil {
		if err := e.cache.SetResult(ctx, documentName, result, e.cfg.CacheTTL); err != nil {
			slog.Warn("classification_cache_write_failed", "document_name", documentName, "error", err)
		}
	}
	return result, nil
}

// cachedResult treats an entry for the same name but different text as a miss,
// so unrelated uploads sharing a filename are classified on their own.
func (e *ClassificationEngine) cachedResult(ctx context.Context, documentName, digest string) (domain.ClassificationResult, bool) {
	if e.cache == nil {
		return domain.ClassificationResult{}, false
	}
	cached, ok, err := e.cache.GetResult(ctx, documentName)
	if err != nil {
		slog.Warn("classification_cache_read_failed", "document_name", documentName, "error", err)
		return domain.ClassificationResult{}, false
	}
	if !ok || cached == nil {
		return domain.ClassificationResult{}, false
	}
	if cached.TextDigest != digest {
		slog.Debug("classification_cache_stale", "document_name", documentName)
		return domain.ClassificationResult{}, false
	}
	return *cached, true
}

func textDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (e *ClassificationEngine) strategies() []classificationStrategy {
	return []classificationStrategy{
		{name: "model", run: e.classifyWithModel},
		{name: "remote", run: e.classifyWithRemote},
	}
}

// runStrategies stops at the first strategy that decides; when none does the
// outcome is Unknown with zero confidence and every failure in the rationale.
func (e *ClassificationEngine) runStrategies(ctx context.Context, text string, hint *domain.RuleHint) strategyOutcome {
	failures := make([]string, 0, 2)
	for _, strategy := range e.strategies() {
		outcome, err := strategy.run(ctx, text, hint)
		if err == nil {
			if len(failures) > 0 {
				outcome.rationale = fmt.Sprintf("%s (after %s)", outcome.rationale, strings.Join(failures, "; "))
			}
			return outcome
		}
		slog.Warn("classification_strategy_failed", "strategy", strategy.name, "error", err)
		failures = append(failures, fmt.Sprintf("%s failed: %v", strategy.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return strategyOutcome{
		category:   domain.CategoryUnknown,
		confidence: 0,
		rationale:  "no classifier produced a result: " + strings.Join(failures, "; "),
		source:     domain.SourceRemote,
	}
}

func (e *ClassificationEngine) classifyWithModel(ctx context.Context, text string, hint *domain.RuleHint) (strategyOutcome, error) {
	labels := e.model.Labels()
	if len(labels) == 0 {
		return strategyOutcome{}, errors.New("model has no labels")
	}
	if strings.TrimSpace(text) == "" {
		return strategyOutcome{}, domain.WrapError(domain.ErrInvalidInput, "model classify", errors.New("empty text"))
	}
	probs, err := e.model.PredictProba(ctx, text)
	if err != nil {
		return strategyOutcome{}, err
	}
	if len(probs) != len(labels) {
		return strategyOutcome{}, fmt.Errorf("model returned %d probabilities for %d labels", len(probs), len(labels))
	}

	source := domain.SourceModel
	rationale := "statistical model prediction"
	boostedIndex := -1
	if hint != nil {
		boostedIndex = labelIndex(labels, hint.ForcedCategory)
	}
	if boostedIndex >= 0 {
		boosted, err := BoostDistribution(probs, boostedIndex, e.cfg.HintBoost)
		if err != nil {
			return strategyOutcome{}, err
		}
		probs = boosted
	}

	best := Argmax(probs)
	if boostedIndex >= 0 {
		rationale = fmt.Sprintf("statistical model prediction boosted by keyword %q", hint.MatchedKeyword)
		if best == boostedIndex {
			source = domain.SourceRule
		}
	}
	return strategyOutcome{
		category:   labels[best],
		confidence: roundConfidence(probs[best]),
		rationale:  rationale,
		source:     source,
	}, nil
}

func (e *ClassificationEngine) classifyWithRemote(ctx context.Context, text string, _ *domain.RuleHint) (strategyOutcome, error) {
	if e.remote == nil {
		return strategyOutcome{}, domain.WrapError(domain.ErrConfiguration, "remote classify", errors.New("remote classifier is not configured"))
	}
	category, confidence, err := e.remote.Classify(ctx, text)
	if err != nil {
		return strategyOutcome{}, err
	}
	return strategyOutcome{
		category:   category,
		confidence: roundConfidence(confidence),
		rationale:  "remote classification api",
		source:     domain.SourceRemote,
	}, nil
}

// gate demotes low-confidence results to Unknown and keeps the number.
func (e *ClassificationEngine) gate(documentName string, hint *domain.RuleHint, outcome strategyOutcome) domain.ClassificationResult {
	result := domain.ClassificationResult{
		DocumentName: documentName,
		Category:     outcome.category,
		Confidence:   outcome.confidence,
		Rationale:    outcome.rationale,
		Hint:         hint,
		Source:       outcome.source,
	}
	if result.Confidence < e.cfg.ConfidenceThreshold && result.Category != domain.CategoryUnknown {
		result.Rationale = fmt.Sprintf("%s; %s at %.2f is below threshold %.2f", result.Rationale, result.Category, result.Confidence, e.cfg.ConfidenceThreshold)
		result.Category = domain.CategoryUnknown
	}
	return result
}

func (e *ClassificationEngine) untrained(documentName string, hint *domain.RuleHint) domain.ClassificationResult {
	labels := e.cfg.Labels
	category := labels[e.randIntN(len(labels))]
	confidence := untrainedMinConfidence + e.randFloat()*(untrainedMaxConfidence-untrainedMinConfidence)
	confidence = math.Min(untrainedMaxConfidence, math.Max(untrainedMinConfidence, roundConfidence(confidence)))
	return domain.ClassificationResult{
		DocumentName: documentName,
		Category:     category,
		Confidence:   confidence,
		Rationale:    "untrained placeholder: no statistical model is loaded, category chosen at random",
		Hint:         hint,
		Source:       domain.SourceUntrained,
	}
}

// matchRule returns the hint of the first keyword, in ascending order, that
// appears in text as a whole word.
func (e *ClassificationEngine) matchRule(ctx context.Context, text string) *domain.RuleHint {
	rules := e.loadRules(ctx)
	keywords := make([]string, 0, len(rules))
	for keyword := range rules {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)

	for _, keyword := range keywords {
		pattern, err := keywordPattern(keyword)
		if err != nil {
			continue
		}
		if pattern.MatchString(text) {
			return &domain.RuleHint{ForcedCategory: rules[keyword], MatchedKeyword: keyword}
		}
	}
	return nil
}

// keywordPattern matches keyword delimited by non-word characters or the text
// edges, so keywords such as "c++" or ".net" match like plain words do.
func keywordPattern(keyword string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)(?:^|\W)` + regexp.QuoteMeta(keyword) + `(?:$|\W)`)
}

// loadRules merges stored rules over the defaults, reading through the cache.
func (e *ClassificationEngine) loadRules(ctx context.Context) map[string]string {
	if e.cache != nil {
		cached, ok, err := e.cache.GetRules(ctx)
		if err != nil {
			slog.Warn("classification_rules_cache_read_failed", "error", err)
		} else if ok {
			return cached
		}
	}

	merged := domain.DefaultClassificationRules()
	if e.rules != nil {
		stored, err := e.rules.ListRules(ctx)
		if err != nil {
			slog.Warn("classification_rules_load_failed", "error", err)
			return merged
		}
		for _, rule := range stored {
			merged[domain.NormalizeKeyword(rule.Keyword)] = rule.Category
		}
	}

	if e.cache != nil {
		if err := e.cache.SetRules(ctx, merged, e.cfg.CacheTTL); err != nil {
			slog.Warn("classification_rules_cache_write_failed", "error", err)
		}
	}
	return merged
}

// BoostDistribution adds boost to probs[index] and renormalizes to sum 1.
func BoostDistribution(probs []float64, index int, boost float64) ([]float64, error) {
	if index < 0 || index >= len(probs) {
		return nil, fmt.Errorf("boost index %d out of range", index)
	}
	out := make([]float64, len(probs))
	copy(out, probs)
	out[index] += boost

	var sum float64
	for _, p := range out {
		sum += p
	}
	if sum <= 0 {
		return nil, errors.New("probability distribution sums to zero")
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

// Argmax returns the index of the largest value; ties go to the lowest index.
func Argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func labelIndex(labels []string, category string) int {
	for i, label := range labels {
		if strings.EqualFold(label, category) {
			return i
		}
	}
	return -1
}

func roundConfidence(v float64) float64 {
	return math.Round(v*100) / 100
}
