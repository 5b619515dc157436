package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/scraper"
)

// memRegistry is an in-memory ports.SourceRegistry.
type memRegistry struct {
	sources map[int64]domain.Source
	lastRun map[int64]time.Time
}

func newMemRegistry(sources ...domain.Source) *memRegistry {
	reg := &memRegistry{sources: map[int64]domain.Source{}, lastRun: map[int64]time.Time{}}
	for _, source := range sources {
		reg.sources[source.ID] = source
	}
	return reg
}

func (r *memRegistry) Get(_ context.Context, id int64) (domain.Source, error) {
	source, ok := r.sources[id]
	if !ok {
		return domain.Source{}, ports.ErrNotFound
	}
	return source, nil
}

func (r *memRegistry) ListActive(_ context.Context) ([]domain.Source, error) {
	var active []domain.Source
	for _, source := range r.sources {
		if source.Active {
			active = append(active, source)
		}
	}
	return active, nil
}

func (r *memRegistry) SetLastRun(_ context.Context, id int64, at time.Time) error {
	r.lastRun[id] = at
	return nil
}

// memStore is an in-memory ports.TenderStore keyed by the dedup pair.
type memStore struct {
	mu            sync.Mutex
	records       map[string]domain.TenderRecord
	failInsertURL string
}

func newMemStore() *memStore {
	return &memStore{records: map[string]domain.TenderRecord{}}
}

func dedupKey(sourceName, url string) string {
	return sourceName + "|" + url
}

func (s *memStore) Exists(_ context.Context, sourceName, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[dedupKey(sourceName, url)]
	return ok, nil
}

func (s *memStore) Insert(_ context.Context, record domain.TenderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsertURL != "" && record.SourceURL == s.failInsertURL {
		return errors.New("storage unavailable")
	}
	key := dedupKey(record.SourceName, record.SourceURL)
	if _, ok := s.records[key]; ok {
		return fmt.Errorf("duplicate record for %s", key)
	}
	s.records[key] = record
	return nil
}

func (s *memStore) get(sourceName, url string) (domain.TenderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[dedupKey(sourceName, url)]
	return record, ok
}

// stubScraper yields a fixed batch or a batch-level error.
type stubScraper struct {
	items []domain.ScrapedItem
	err   error
}

func (s *stubScraper) Scrape(_ context.Context, limit int) ([]domain.ScrapedItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit > 0 && len(s.items) > limit {
		return s.items[:limit], nil
	}
	return s.items, nil
}

func (s *stubScraper) TestConnection(context.Context) bool { return s.err == nil }
func (s *stubScraper) Close() error                        { return nil }

// stubExtractor maps content to fields and can fail for chosen titles.
type stubExtractor struct {
	budget     *float64
	failTitles map[string]bool
	calls      int
}

func (e *stubExtractor) Extract(_ context.Context, title, _ string) (*domain.ExtractedFields, error) {
	e.calls++
	if e.failTitles[title] {
		return nil, errors.New("extraction failed after retries")
	}
	return &domain.ExtractedFields{
		ProjectName:    title,
		BudgetAmount:   e.budget,
		BudgetCurrency: "CNY",
	}, nil
}

func stubRegistry(sc scraper.Scraper) *scraper.Registry {
	registry := scraper.NewRegistry()
	registry.Register("stub", func(domain.Source) (scraper.Scraper, error) {
		return sc, nil
	})
	return registry
}

func stubSource(id int64, rules *domain.FilterRules) domain.Source {
	return domain.Source{
		ID:          id,
		Name:        fmt.Sprintf("source-%d", id),
		URL:         "http://example.org",
		ScraperType: "stub",
		FilterRules: rules,
		Active:      true,
	}
}

func itemsFor(n int) []domain.ScrapedItem {
	items := make([]domain.ScrapedItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, domain.ScrapedItem{
			Title:   fmt.Sprintf("公告 %d", i),
			Content: fmt.Sprintf("正文 %d", i),
			URL:     fmt.Sprintf("http://example.org/detail/%d", i),
		})
	}
	return items
}

func newTestPipeline(reg *memRegistry, store *memStore, ex ports.Extractor, sc scraper.Scraper, opts Options) *Pipeline {
	return NewPipeline(PipelineDeps{
		Sources:   reg,
		Store:     store,
		Extractor: ex,
		Scrapers:  stubRegistry(sc),
		Options:   opts,
	})
}

func TestRunSourceMissingSource(t *testing.T) {
	t.Parallel()

	pipeline := newTestPipeline(newMemRegistry(), newMemStore(), nil, &stubScraper{}, Options{})

	_, err := pipeline.RunSource(context.Background(), 42)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for missing source, got %v", err)
	}
}

func TestRunSourceInactiveSource(t *testing.T) {
	t.Parallel()

	source := stubSource(1, nil)
	source.Active = false
	pipeline := newTestPipeline(newMemRegistry(source), newMemStore(), nil, &stubScraper{}, Options{})

	_, err := pipeline.RunSource(context.Background(), 1)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for inactive source, got %v", err)
	}
}

func TestRunSourceUnknownScraperType(t *testing.T) {
	t.Parallel()

	source := stubSource(1, nil)
	source.ScraperType = "browser"
	pipeline := newTestPipeline(newMemRegistry(source), newMemStore(), nil, &stubScraper{}, Options{})

	_, err := pipeline.RunSource(context.Background(), 1)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for unknown scraper type, got %v", err)
	}
}

func TestRunSourceBatchFailurePropagates(t *testing.T) {
	t.Parallel()

	source := stubSource(1, nil)
	sc := &stubScraper{err: errors.New("connection refused")}
	pipeline := newTestPipeline(newMemRegistry(source), newMemStore(), nil, sc, Options{})

	if _, err := pipeline.RunSource(context.Background(), 1); err == nil {
		t.Fatal("expected batch-level failure to propagate")
	}
}

func TestRunSourceEndToEndWithExcludeRule(t *testing.T) {
	t.Parallel()

	rules := &domain.FilterRules{ExcludeKeywords: []string{"废标"}}
	source := stubSource(1, rules)
	sc := &stubScraper{items: []domain.ScrapedItem{
		{Title: "公告 A", Content: "由于投标人不足，本项目废标", URL: "http://example.org/a"},
		{Title: "公告 B", Content: "欢迎投标", URL: "http://example.org/b"},
	}}
	store := newMemStore()
	extractor := &stubExtractor{}
	registry := newMemRegistry(source)
	pipeline := newTestPipeline(registry, store, extractor, sc, Options{Limit: 2})

	report, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunSource returned error: %v", err)
	}

	if report.Scraped != 2 || report.Filtered != 1 || report.Processed != 1 || report.Errors != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// Filtered item is persisted with its verdict, not dropped.
	filtered, ok := store.get(source.Name, "http://example.org/a")
	if !ok {
		t.Fatal("filtered item should still be persisted")
	}
	if !filtered.IsFiltered || filtered.FilterReason == "" {
		t.Fatalf("unexpected filtered record: %+v", filtered)
	}
	if filtered.Extracted != nil {
		t.Fatal("pre-filtered item should not be extracted by default")
	}

	kept, ok := store.get(source.Name, "http://example.org/b")
	if !ok {
		t.Fatal("unfiltered item should be persisted")
	}
	if kept.IsFiltered || kept.Extracted == nil {
		t.Fatalf("unexpected record: %+v", kept)
	}

	// Extraction was only paid for the unfiltered item.
	if extractor.calls != 1 {
		t.Fatalf("expected 1 extraction call, got %d", extractor.calls)
	}

	if _, ok := registry.lastRun[1]; !ok {
		t.Fatal("last run marker should be set")
	}
}

func TestRunSourceDedupAcrossRuns(t *testing.T) {
	t.Parallel()

	source := stubSource(1, nil)
	sc := &stubScraper{items: itemsFor(2)}
	store := newMemStore()
	pipeline := newTestPipeline(newMemRegistry(source), store, &stubExtractor{}, sc, Options{})

	first, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	if first.Processed != 2 {
		t.Fatalf("unexpected first report: %+v", first)
	}

	second, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if second.Processed != 0 || second.Errors != 0 {
		t.Fatalf("second run should skip everything, got %+v", second)
	}

	if len(store.records) != 2 {
		t.Fatalf("expected exactly 2 records after both runs, got %d", len(store.records))
	}
}

func TestRunSourcePartialBatchIsolation(t *testing.T) {
	t.Parallel()

	source := stubSource(1, nil)
	sc := &stubScraper{items: itemsFor(5)}
	store := newMemStore()
	store.failInsertURL = "http://example.org/detail/2"
	pipeline := newTestPipeline(newMemRegistry(source), store, &stubExtractor{}, sc, Options{Limit: 5})

	report, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunSource returned error: %v", err)
	}

	if report.Errors != 1 {
		t.Fatalf("expected exactly 1 error, got %d", report.Errors)
	}
	if report.Processed != 4 {
		t.Fatalf("expected 4 processed items, got %d", report.Processed)
	}
	if len(store.records) != 4 {
		t.Fatalf("expected 4 persisted records, got %d", len(store.records))
	}
}

func TestRunSourceBudgetFilterEscalates(t *testing.T) {
	t.Parallel()

	minBudget := 100000.0
	rules := &domain.FilterRules{MinBudget: &minBudget}
	source := stubSource(1, rules)
	lowBudget := 5000.0
	sc := &stubScraper{items: itemsFor(1)}
	store := newMemStore()
	pipeline := newTestPipeline(newMemRegistry(source), store, &stubExtractor{budget: &lowBudget}, sc, Options{})

	report, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunSource returned error: %v", err)
	}
	if report.Filtered != 1 || report.Processed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	record, ok := store.get(source.Name, "http://example.org/detail/1")
	if !ok {
		t.Fatal("budget-filtered item should be persisted")
	}
	if !record.IsFiltered {
		t.Fatal("expected budget filter to mark the record filtered")
	}
	if record.Extracted == nil {
		t.Fatal("extracted fields should be kept on the filtered record")
	}
}

func TestRunSourceExtractionFailureDropsItem(t *testing.T) {
	t.Parallel()

	source := stubSource(1, nil)
	sc := &stubScraper{items: itemsFor(2)}
	store := newMemStore()
	extractor := &stubExtractor{failTitles: map[string]bool{"公告 1": true}}
	pipeline := newTestPipeline(newMemRegistry(source), store, extractor, sc, Options{})

	report, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunSource returned error: %v", err)
	}
	if report.Errors != 1 || report.Processed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, ok := store.get(source.Name, "http://example.org/detail/1"); ok {
		t.Fatal("item with failed extraction should not be persisted by default")
	}
}

func TestRunSourcePersistFailedExtractionsPolicy(t *testing.T) {
	t.Parallel()

	source := stubSource(1, nil)
	sc := &stubScraper{items: itemsFor(1)}
	store := newMemStore()
	extractor := &stubExtractor{failTitles: map[string]bool{"公告 1": true}}
	pipeline := newTestPipeline(newMemRegistry(source), store, extractor, sc,
		Options{PersistFailedExtractions: true})

	report, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunSource returned error: %v", err)
	}
	if report.Errors != 1 {
		t.Fatalf("failed extraction still counts as an error, got %+v", report)
	}

	record, ok := store.get(source.Name, "http://example.org/detail/1")
	if !ok {
		t.Fatal("policy should persist the raw record")
	}
	if record.Extracted != nil {
		t.Fatal("persisted record should carry no extracted fields")
	}

	// Second run: the dedup key now stops re-processing.
	second, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if second.Errors != 0 || extractor.calls != 1 {
		t.Fatalf("expected no re-extraction on second run, got %+v after %d calls", second, extractor.calls)
	}
}

func TestRunSourceExtractFilteredAuditPolicy(t *testing.T) {
	t.Parallel()

	rules := &domain.FilterRules{ExcludeKeywords: []string{"废标"}}
	source := stubSource(1, rules)
	sc := &stubScraper{items: []domain.ScrapedItem{
		{Title: "废标公告", Content: "本项目废标", URL: "http://example.org/a"},
	}}
	store := newMemStore()
	extractor := &stubExtractor{}
	pipeline := newTestPipeline(newMemRegistry(source), store, extractor, sc,
		Options{ExtractFiltered: true})

	if _, err := pipeline.RunSource(context.Background(), 1); err != nil {
		t.Fatalf("RunSource returned error: %v", err)
	}
	if extractor.calls != 1 {
		t.Fatalf("audit mode should extract filtered items, got %d calls", extractor.calls)
	}

	record, _ := store.get(source.Name, "http://example.org/a")
	if !record.IsFiltered {
		t.Fatal("audit extraction must not un-filter the item")
	}
	if record.Extracted == nil {
		t.Fatal("audit mode should keep the extracted fields")
	}
}

func TestRunAllActiveIsolatesFailures(t *testing.T) {
	t.Parallel()

	healthy := stubSource(1, nil)
	broken := stubSource(2, nil)

	registry := newMemRegistry(healthy, broken)
	store := newMemStore()

	scrapers := scraper.NewRegistry()
	scrapers.Register("stub", func(source domain.Source) (scraper.Scraper, error) {
		if source.ID == 2 {
			return &stubScraper{err: errors.New("connection refused")}, nil
		}
		return &stubScraper{items: itemsFor(1)}, nil
	})

	pipeline := NewPipeline(PipelineDeps{
		Sources:   registry,
		Store:     store,
		Extractor: &stubExtractor{},
		Scrapers:  scrapers,
	})

	reports, err := pipeline.RunAllActive(context.Background())
	if err != nil {
		t.Fatalf("RunAllActive returned error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected one report per active source, got %d", len(reports))
	}

	byName := map[string]domain.RunReport{}
	for _, report := range reports {
		byName[report.SourceName] = report
	}

	if byName["source-2"].Err == nil {
		t.Fatal("broken source should report its error")
	}
	if byName["source-1"].Err != nil || byName["source-1"].Processed != 1 {
		t.Fatalf("healthy source should complete, got %+v", byName["source-1"])
	}
}

func TestRunSourceWithoutExtractorPersistsRawItems(t *testing.T) {
	t.Parallel()

	source := stubSource(1, nil)
	sc := &stubScraper{items: itemsFor(1)}
	store := newMemStore()
	pipeline := newTestPipeline(newMemRegistry(source), store, nil, sc, Options{})

	report, err := pipeline.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunSource returned error: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	record, _ := store.get(source.Name, "http://example.org/detail/1")
	if record.Extracted != nil {
		t.Fatal("no extractor configured, record should carry no extracted fields")
	}
}
