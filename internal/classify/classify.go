// Package classify buckets free-form situation updates by intent.
//
// The vocabularies are deliberately tiny and fixed: the point is an
// auditable, testable lookup, not language understanding. Unknown or empty
// input is neutral.
package classify

import (
	"strings"
)

// Bucket is the intent of a free-form update.
type Bucket string

const (
	Escalating Bucket = "escalating"
	Improving  Bucket = "improving"
	Neutral    Bucket = "neutral"
)

// Bucket order matters: escalating is checked first, so an update matching
// both ("worse, but ok") escalates.
var vocabularies = []struct {
	bucket   Bucket
	keywords []string
}{
	{Escalating, []string{"worse", "urgent", "emergency"}},
	{Improving, []string{"better", "safe", "ok"}},
}

// Classify maps text to exactly one bucket via case-insensitive substring
// matching. It is total: any input, including the empty string, yields a
// bucket.
func Classify(text string) Bucket {
	lower := strings.ToLower(text)
	for _, v := range vocabularies {
		for _, kw := range v.keywords {
			if strings.Contains(lower, kw) {
				return v.bucket
			}
		}
	}
	return Neutral
}
