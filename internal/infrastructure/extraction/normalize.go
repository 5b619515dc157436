package extraction

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"TenderScanner/internal/domain"
)

// DefaultCurrency is assumed when the payload omits a currency code.
const DefaultCurrency = "CNY"

// budgetCleaner strips currency symbols and thousands separators before
// numeric parsing.
var budgetCleaner = strings.NewReplacer("元", "", "￥", "", "¥", "", ",", "", " ", "")

// Normalize validates the raw extraction payload into typed fields. Field
// level junk degrades to nil values; a negative budget is rejected as
// invalid input.
func Normalize(payload map[string]any) (*domain.ExtractedFields, error) {
	fields := &domain.ExtractedFields{
		ProjectName:    stringField(payload, "project_name"),
		BudgetCurrency: DefaultCurrency,
		ContactPerson:  stringField(payload, "contact_person"),
		ContactPhone:   stringField(payload, "contact_phone"),
		ContactEmail:   stringField(payload, "contact_email"),
		Location:       stringField(payload, "location"),
	}

	amount, err := parseBudget(payload["budget_amount"])
	if err != nil {
		return nil, err
	}
	fields.BudgetAmount = amount

	if currency := stringField(payload, "budget_currency"); currency != "" {
		fields.BudgetCurrency = currency
	}

	fields.Deadline = parseDeadline(payload["deadline"])

	return fields, nil
}

// parseBudget accepts native numbers directly. Strings are cleaned of
// currency symbols and separators; a "万" unit marker multiplies the numeric
// remainder by 10000. Unparseable or empty strings yield nil, never an
// error. Negative amounts are invalid input.
func parseBudget(value any) (*float64, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		if v < 0 {
			return nil, fmt.Errorf("negative budget amount: %v", v)
		}
		amount := v
		return &amount, nil
	case string:
		cleaned := strings.TrimSpace(budgetCleaner.Replace(v))
		if cleaned == "" {
			return nil, nil
		}

		multiplier := 1.0
		if strings.Contains(cleaned, "万") {
			multiplier = 10000
			cleaned = strings.ReplaceAll(cleaned, "万", "")
		}

		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, nil
		}

		amount := parsed * multiplier
		if amount < 0 {
			return nil, fmt.Errorf("negative budget amount: %v", v)
		}
		return &amount, nil
	default:
		return nil, nil
	}
}

// parseDeadline accepts native timestamps and free-text date strings;
// anything unparseable yields nil.
func parseDeadline(value any) *time.Time {
	switch v := value.(type) {
	case time.Time:
		return &v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		parsed, err := dateparse.ParseAny(trimmed)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

func stringField(payload map[string]any, key string) string {
	if value, ok := payload[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
