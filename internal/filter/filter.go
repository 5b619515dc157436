// Package filter evaluates declarative keyword and budget rules against
// tender announcements. All functions are pure and safe for concurrent use.
package filter

import (
	"fmt"
	"strings"

	"TenderScanner/internal/domain"
)

// Apply checks keyword rules in a fixed order, short-circuiting on the first
// match: excluded keywords over title+content, excluded keywords over the
// title, required content keywords, required title keywords. The returned
// reason names the failing rule and the keyword(s) involved.
func Apply(title, content string, rules *domain.FilterRules) (bool, string) {
	if rules == nil {
		return false, ""
	}

	combined := strings.ToLower(title + " " + content)
	for _, keyword := range rules.ExcludeKeywords {
		if keyword != "" && strings.Contains(combined, strings.ToLower(keyword)) {
			return true, fmt.Sprintf("contains excluded keyword: %s", keyword)
		}
	}

	loweredTitle := strings.ToLower(title)
	for _, keyword := range rules.TitleExclude {
		if keyword != "" && strings.Contains(loweredTitle, strings.ToLower(keyword)) {
			return true, fmt.Sprintf("title contains excluded keyword: %s", keyword)
		}
	}

	if len(rules.IncludeKeywords) > 0 && !containsAny(combined, rules.IncludeKeywords) {
		return true, fmt.Sprintf("does not contain any required keywords: %s",
			strings.Join(rules.IncludeKeywords, ", "))
	}

	if len(rules.TitleInclude) > 0 && !containsAny(loweredTitle, rules.TitleInclude) {
		return true, fmt.Sprintf("title does not contain required keywords: %s",
			strings.Join(rules.TitleInclude, ", "))
	}

	return false, ""
}

// ApplyBudget checks an extracted budget amount against the optional bounds.
// A nil amount or absent rules never filters.
func ApplyBudget(amount *float64, rules *domain.FilterRules) (bool, string) {
	if rules == nil || amount == nil {
		return false, ""
	}

	if rules.MinBudget != nil && *amount < *rules.MinBudget {
		return true, fmt.Sprintf("budget %.2f below minimum %.2f", *amount, *rules.MinBudget)
	}

	if rules.MaxBudget != nil && *amount > *rules.MaxBudget {
		return true, fmt.Sprintf("budget %.2f above maximum %.2f", *amount, *rules.MaxBudget)
	}

	return false, ""
}

func containsAny(lowered string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lowered, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
