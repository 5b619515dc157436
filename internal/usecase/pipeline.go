package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/filter"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/scraper"
)

// ValidationError reports a source configuration problem that stops a run
// before any item is touched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

const defaultLimit = 10

// Options control the pipeline policies left to configuration.
type Options struct {
	// Limit caps the number of list entries visited per source run.
	Limit int
	// PersistFailedExtractions stores an item whose extraction exhausted
	// its retries with no extracted fields, so its dedup key stops it from
	// being re-attempted on every future run. When false such items are
	// dropped and retried next run.
	PersistFailedExtractions bool
	// ExtractFiltered still calls the extraction service for pre-filtered
	// items so they carry an audit trail of what they would have extracted.
	ExtractFiltered bool
}

// PipelineDeps wires all collaborators into the orchestrator.
type PipelineDeps struct {
	Sources   ports.SourceRegistry
	Store     ports.TenderStore
	Extractor ports.Extractor
	Scrapers  *scraper.Registry
	Logger    *slog.Logger
	Options   Options
}

// Pipeline sequences dedup, filtering, extraction, and persistence per item
// with failure isolation across items and across sources.
type Pipeline struct {
	sources   ports.SourceRegistry
	store     ports.TenderStore
	extractor ports.Extractor
	scrapers  *scraper.Registry
	logger    *slog.Logger
	opts      Options
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	opts := deps.Options
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		sources:   deps.Sources,
		store:     deps.Store,
		extractor: deps.Extractor,
		scrapers:  deps.Scrapers,
		logger:    logger,
		opts:      opts,
	}
}

// RunSource executes one source's run: resolve the configuration, build the
// scraper variant, scrape, process each item, and record the run marker.
// Batch-level failures propagate to the caller; item-level failures only
// increment the report's error counter.
func (p *Pipeline) RunSource(ctx context.Context, sourceID int64) (domain.RunReport, error) {
	source, err := p.sources.Get(ctx, sourceID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return domain.RunReport{}, &ValidationError{Reason: fmt.Sprintf("source %d not found", sourceID)}
		}
		return domain.RunReport{}, fmt.Errorf("load source %d: %w", sourceID, err)
	}
	if !source.Active {
		return domain.RunReport{}, &ValidationError{Reason: fmt.Sprintf("source %s is not active", source.Name)}
	}

	sc, err := p.scrapers.Build(source)
	if err != nil {
		return domain.RunReport{}, &ValidationError{Reason: fmt.Sprintf("source %s: %v", source.Name, err)}
	}
	defer func() {
		if closeErr := sc.Close(); closeErr != nil {
			p.logger.Warn("close scraper", "source", source.Name, "error", closeErr)
		}
	}()

	p.logger.Info("starting source run", "source", source.Name, "limit", p.opts.Limit)
	items, err := sc.Scrape(ctx, p.opts.Limit)
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("scrape %s: %w", source.Name, err)
	}

	report := domain.RunReport{SourceName: source.Name, Scraped: len(items)}
	for _, item := range items {
		outcome, itemErr := p.processItem(ctx, source, item)
		if itemErr != nil {
			p.logger.Error("process item failed",
				"source", source.Name, "url", item.URL, "error", itemErr)
			report.Errors++
			continue
		}

		switch outcome {
		case outcomeSkipped:
		case outcomeProcessed:
			report.Processed++
		case outcomeFiltered:
			report.Filtered++
		case outcomeFailedPersisted:
			report.Errors++
		}
	}

	if err := p.sources.SetLastRun(ctx, source.ID, time.Now().UTC()); err != nil {
		p.logger.Warn("update last run marker", "source", source.Name, "error", err)
	}

	p.logger.Info("source run complete",
		"source", source.Name,
		"scraped", report.Scraped,
		"processed", report.Processed,
		"filtered", report.Filtered,
		"errors", report.Errors)
	return report, nil
}

// RunAllActive runs every active source in turn. A failure in one source's
// run becomes that source's report entry and never blocks the rest.
func (p *Pipeline) RunAllActive(ctx context.Context) ([]domain.RunReport, error) {
	sources, err := p.sources.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}

	reports := make([]domain.RunReport, 0, len(sources))
	for _, source := range sources {
		report, runErr := p.RunSource(ctx, source.ID)
		if runErr != nil {
			p.logger.Error("source run failed", "source", source.Name, "error", runErr)
			reports = append(reports, domain.RunReport{SourceName: source.Name, Err: runErr})
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeProcessed
	outcomeFiltered
	// outcomeFailedPersisted marks an item whose extraction failed but
	// whose raw record was stored under the persist-failed policy.
	outcomeFailedPersisted
)

// processItem runs the strict per-item sequence: dedup check, pre-extraction
// filter, conditional extraction, budget filter, persist. Extraction runs
// only on unfiltered items unless the audit option is set; budget filtering
// only ever escalates to filtered, never the reverse.
func (p *Pipeline) processItem(ctx context.Context, source domain.Source, item domain.ScrapedItem) (itemOutcome, error) {
	exists, err := p.store.Exists(ctx, source.Name, item.URL)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		p.logger.Debug("item already stored", "source", source.Name, "url", item.URL)
		return outcomeSkipped, nil
	}

	isFiltered, reason := filter.Apply(item.Title, item.Content, source.FilterRules)

	var extracted *domain.ExtractedFields
	extractionFailed := false
	if p.extractor != nil && (!isFiltered || p.opts.ExtractFiltered) {
		extracted, err = p.extractor.Extract(ctx, item.Title, item.Content)
		if err != nil {
			if !p.opts.PersistFailedExtractions {
				return outcomeSkipped, fmt.Errorf("extract: %w", err)
			}
			p.logger.Warn("extraction failed, persisting raw item",
				"source", source.Name, "url", item.URL, "error", err)
			extracted = nil
			extractionFailed = true
		}
	}

	if !isFiltered && extracted != nil && extracted.BudgetAmount != nil {
		if budgetFiltered, budgetReason := filter.ApplyBudget(extracted.BudgetAmount, source.FilterRules); budgetFiltered {
			isFiltered = true
			reason = budgetReason
		}
	}

	record := domain.TenderRecord{
		SourceName:   source.Name,
		SourceURL:    item.URL,
		OriginalID:   item.OriginalID,
		Title:        item.Title,
		Content:      item.Content,
		RawHTML:      item.RawHTML,
		PublishedAt:  item.PublishedAt,
		Extracted:    extracted,
		IsFiltered:   isFiltered,
		FilterReason: reason,
	}
	if err := p.store.Insert(ctx, record); err != nil {
		return outcomeSkipped, fmt.Errorf("persist: %w", err)
	}

	switch {
	case extractionFailed:
		return outcomeFailedPersisted, nil
	case isFiltered:
		return outcomeFiltered, nil
	default:
		return outcomeProcessed, nil
	}
}
