package resilience

import "strings"

// FailureCategory classifies execution errors. Transient failures drive
// backoff and, when exhausted, fallback; permanent failures abort
// immediately.
type FailureCategory string

const (
	CategoryTransient FailureCategory = "transient"
	CategoryPermanent FailureCategory = "permanent"
)

// Errors are classified by message, not by source type: callers supply the
// unit of work and we cannot depend on their error types.
var permanentPatterns = []string{
	"unauthorized",
	"forbidden",
	"authorization",
	"permission denied",
	"invalid",
	"malformed",
	"bad request",
}

// Classify determines the category of an error.
func Classify(err error) FailureCategory {
	if err == nil {
		return CategoryTransient
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return CategoryPermanent
		}
	}
	return CategoryTransient
}

// Retriable reports whether an error is worth retrying.
func Retriable(err error) bool {
	return Classify(err) == CategoryTransient
}
