package domain

import "time"

// ScrapedItem is a raw announcement pulled from a source before any
// enrichment. It is transient and never persisted as-is.
type ScrapedItem struct {
	Title       string
	Content     string
	URL         string
	OriginalID  string
	PublishedAt *time.Time
	RawHTML     string
	Metadata    map[string]string
}

// ExtractedFields carries the structured data pulled out of unstructured
// announcement text. Every field is optional.
type ExtractedFields struct {
	ProjectName    string     `json:"project_name,omitempty"`
	BudgetAmount   *float64   `json:"budget_amount,omitempty"`
	BudgetCurrency string     `json:"budget_currency,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	ContactPerson  string     `json:"contact_person,omitempty"`
	ContactPhone   string     `json:"contact_phone,omitempty"`
	ContactEmail   string     `json:"contact_email,omitempty"`
	Location       string     `json:"location,omitempty"`
}

// FilterRules holds the declarative keyword and budget criteria supplied by
// a source configuration. A nil rule set filters nothing.
type FilterRules struct {
	IncludeKeywords []string `json:"include_keywords,omitempty" yaml:"includeKeywords"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty" yaml:"excludeKeywords"`
	TitleInclude    []string `json:"title_include,omitempty" yaml:"titleInclude"`
	TitleExclude    []string `json:"title_exclude,omitempty" yaml:"titleExclude"`
	MinBudget       *float64 `json:"min_budget,omitempty" yaml:"minBudget"`
	MaxBudget       *float64 `json:"max_budget,omitempty" yaml:"maxBudget"`
}

// Source describes one configured external source: where to fetch, which
// scraper variant to build, and which rules to apply.
type Source struct {
	ID          int64
	Name        string
	URL         string
	ScraperType string
	Params      map[string]string
	FilterRules *FilterRules
	Active      bool
	LastRunAt   *time.Time
}

// TenderRecord is the persisted announcement: raw scraped fields plus any
// extracted fields and the final filter verdict. The (SourceName, SourceURL)
// pair is the dedup key and must never admit two live records.
type TenderRecord struct {
	ID                int64
	SourceName        string
	SourceURL         string
	OriginalID        string
	Title             string
	Content           string
	RawHTML           string
	PublishedAt       *time.Time
	Extracted         *ExtractedFields
	IsFiltered        bool
	FilterReason      string
	ManuallyCorrected bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RunReport summarizes one source's pipeline run. Err is set instead of the
// counters when the whole run failed before item processing.
type RunReport struct {
	SourceName string
	Scraped    int
	Processed  int
	Filtered   int
	Errors     int
	Err        error
}
