package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// storeFake is an in-memory lifecycle store with the same uniqueness and
// transition rules as the Postgres one.
type storeFake struct {
	mu              sync.Mutex
	docs            map[string]*domain.Document
	byFingerprint   map[string]string
	extractions     map[string][]domain.Extraction
	classifications map[string][]domain.ClassificationResult
	routingLogs     map[string][]domain.RoutingLog
	audit           map[string][]domain.AuditEntry
	failures        map[string]string
	recordErr       error
}

func newStoreFake() *storeFake {
	return &storeFake{
		docs:            make(map[string]*domain.Document),
		byFingerprint:   make(map[string]string),
		extractions:     make(map[string][]domain.Extraction),
		classifications: make(map[string][]domain.ClassificationResult),
		routingLogs:     make(map[string][]domain.RoutingLog),
		audit:           make(map[string][]domain.AuditEntry),
		failures:        make(map[string]string),
	}
}

func (f *storeFake) put(doc domain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := doc
	f.docs[doc.ID] = &copyDoc
	if doc.Fingerprint != "" {
		f.byFingerprint[doc.Fingerprint] = doc.ID
	}
}

func (f *storeFake) CreateOrGet(_ context.Context, doc *domain.Document) (*domain.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byFingerprint[doc.Fingerprint]; ok {
		copyDoc := *f.docs[id]
		return &copyDoc, false, nil
	}
	copyDoc := *doc
	if copyDoc.ID == "" {
		copyDoc.ID = uuid.NewString()
	}
	f.docs[copyDoc.ID] = &copyDoc
	f.byFingerprint[copyDoc.Fingerprint] = copyDoc.ID
	f.audit[copyDoc.ID] = append(f.audit[copyDoc.ID], domain.AuditEntry{Action: domain.ActionIngested})
	out := copyDoc
	return &out, true, nil
}

func (f *storeFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *storeFake) transition(id string, to domain.DocumentStatus) error {
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "transition", errors.New(id))
	}
	if !domain.CanTransition(doc.Status, to) {
		return domain.WrapError(domain.ErrInvalidTransition, "transition", errors.New(string(doc.Status)+" -> "+string(to)))
	}
	doc.Status = to
	return nil
}

func (f *storeFake) RecordExtraction(_ context.Context, id string, extraction domain.Extraction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	if err := f.transition(id, domain.StatusExtracted); err != nil {
		return err
	}
	f.extractions[id] = append(f.extractions[id], extraction)
	return nil
}

func (f *storeFake) RecordClassification(_ context.Context, id string, result domain.ClassificationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	if err := f.transition(id, domain.StatusClassified); err != nil {
		return err
	}
	f.classifications[id] = append(f.classifications[id], result)
	return nil
}

func (f *storeFake) RecordRouting(_ context.Context, id string, entry domain.RoutingLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	if _, ok := f.docs[id]; !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "record routing", errors.New(id))
	}
	if entry.Status == domain.RoutingSuccess {
		if entry.FilePath != nil && *entry.FilePath != "" {
			f.docs[id].RoutedPath = *entry.FilePath
		}
		if err := f.transition(id, domain.StatusRouted); err != nil {
			return err
		}
	}
	f.routingLogs[id] = append(f.routingLogs[id], entry)
	return nil
}

func (f *storeFake) MarkFailed(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transition(id, domain.StatusFailed); err != nil {
		return err
	}
	f.failures[id] = reason
	return nil
}

func (f *storeFake) AppendLog(_ context.Context, id, action, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit[id] = append(f.audit[id], domain.AuditEntry{DocumentID: id, Action: action, Message: message})
	return nil
}

func (f *storeFake) ActiveExtraction(_ context.Context, id string) (*domain.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.extractions[id]
	if len(list) == 0 {
		return nil, domain.ErrDocumentNotFound
	}
	out := list[len(list)-1]
	return &out, nil
}

func (f *storeFake) LatestClassification(_ context.Context, id string) (*domain.ClassificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.classifications[id]
	if len(list) == 0 {
		return nil, nil
	}
	out := list[len(list)-1]
	return &out, nil
}

func (f *storeFake) ListClassifications(_ context.Context, id string) ([]domain.ClassificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ClassificationResult(nil), f.classifications[id]...), nil
}

func (f *storeFake) ListRoutingLogs(_ context.Context, id string) ([]domain.RoutingLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RoutingLog(nil), f.routingLogs[id]...), nil
}

func (f *storeFake) ListAudit(_ context.Context, id string) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEntry(nil), f.audit[id]...), nil
}

func (f *storeFake) documentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *storageFake) URL(key string) string { return "mem://" + key }

func (f *storageFake) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// dedupFake expires markers against an adjustable clock.
type dedupFake struct {
	mu      sync.Mutex
	now     time.Time
	expires map[string]time.Time
}

func newDedupFake() *dedupFake {
	return &dedupFake{now: time.Unix(1_700_000_000, 0), expires: make(map[string]time.Time)}
}

func (f *dedupFake) Seen(_ context.Context, fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.expires[fingerprint]
	return ok && f.now.Before(exp), nil
}

func (f *dedupFake) Mark(_ context.Context, fingerprint string, _ map[string]any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[fingerprint] = f.now.Add(ttl)
	return nil
}

func (f *dedupFake) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type classificationCacheFake struct {
	mu            sync.Mutex
	results       map[string]domain.ClassificationResult
	rules         map[string]string
	hasRules      bool
	invalidateErr error
}

func newClassificationCacheFake() *classificationCacheFake {
	return &classificationCacheFake{results: make(map[string]domain.ClassificationResult)}
}

func (f *classificationCacheFake) GetResult(_ context.Context, name string) (*domain.ClassificationResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[name]
	if !ok {
		return nil, false, nil
	}
	return &res, true, nil
}

func (f *classificationCacheFake) SetResult(_ context.Context, name string, result domain.ClassificationResult, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[name] = result
	return nil
}

func (f *classificationCacheFake) GetRules(context.Context) (map[string]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRules {
		return nil, false, nil
	}
	out := make(map[string]string, len(f.rules))
	for k, v := range f.rules {
		out[k] = v
	}
	return out, true, nil
}

func (f *classificationCacheFake) SetRules(_ context.Context, rules map[string]string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = rules
	f.hasRules = true
	return nil
}

func (f *classificationCacheFake) InvalidateRules(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalidateErr != nil {
		return f.invalidateErr
	}
	f.rules = nil
	f.hasRules = false
	return nil
}

type ruleStoreFake struct {
	mu    sync.Mutex
	rules map[string]domain.ClassificationRule
	calls int
}

func newRuleStoreFake() *ruleStoreFake {
	return &ruleStoreFake{rules: make(map[string]domain.ClassificationRule)}
}

func (f *ruleStoreFake) UpsertRule(_ context.Context, rule domain.ClassificationRule) (*domain.ClassificationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule.Keyword = domain.NormalizeKeyword(rule.Keyword)
	f.rules[rule.Keyword] = rule
	return &rule, nil
}

func (f *ruleStoreFake) DeleteRule(_ context.Context, keyword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[keyword]; !ok {
		return domain.WrapError(domain.ErrRuleNotFound, "delete rule", errors.New(keyword))
	}
	delete(f.rules, keyword)
	return nil
}

func (f *ruleStoreFake) ListRules(context.Context) ([]domain.ClassificationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]domain.ClassificationRule, 0, len(f.rules))
	for _, rule := range f.rules {
		out = append(out, rule)
	}
	return out, nil
}

type routingStoreFake struct {
	mu    sync.Mutex
	rules []domain.RoutingRule
}

func (f *routingStoreFake) CreateRoutingRule(_ context.Context, rule *domain.RoutingRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rule.Enabled {
		for _, existing := range f.rules {
			if existing.Enabled && strings.EqualFold(existing.DocType, rule.DocType) {
				return domain.WrapError(domain.ErrDuplicateRule, "create routing rule", errors.New(rule.DocType))
			}
		}
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *routingStoreFake) FindEnabledRule(_ context.Context, docType string) (*domain.RoutingRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rule := range f.rules {
		if rule.Enabled && strings.EqualFold(rule.DocType, docType) {
			out := rule
			return &out, nil
		}
	}
	return nil, nil
}

func (f *routingStoreFake) ListRoutingRules(context.Context) ([]domain.RoutingRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RoutingRule(nil), f.rules...), nil
}

func (f *routingStoreFake) SetRoutingRuleEnabled(_ context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules[i].Enabled = enabled
			return nil
		}
	}
	return domain.ErrRuleNotFound
}

func (f *routingStoreFake) DeleteRoutingRule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return domain.ErrRuleNotFound
}

type modelFake struct {
	labels []string
	probs  []float64
	err    error
	calls  int
}

func (f *modelFake) Labels() []string { return f.labels }

func (f *modelFake) PredictProba(context.Context, string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]float64(nil), f.probs...), nil
}

type remoteFake struct {
	category   string
	confidence float64
	err        error
	calls      int
}

func (f *remoteFake) Classify(context.Context, string) (string, float64, error) {
	f.calls++
	if f.err != nil {
		return "", 0, f.err
	}
	return f.category, f.confidence, nil
}

type dispatcherFake struct {
	location string
	err      error
	calls    int
}

func (f *dispatcherFake) Dispatch(context.Context, *domain.Document, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.location, nil
}

type publishedMessage struct {
	subject string
	msg     domain.Message
}

type busFake struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (f *busFake) Publish(_ context.Context, subject string, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{subject: subject, msg: msg})
	return nil
}

func (f *busFake) Consume(context.Context, string, string) (ports.MessageConsumer, error) {
	return nil, errors.New("not implemented")
}

func (f *busFake) Close() {}
