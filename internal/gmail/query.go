package gmail

import (
	"strings"

	"github.com/mailsweep/mailsweep/pkg/model"
)

// DefaultQuery targets mail that is likely to be a newsletter.
const DefaultQuery = "category:promotions OR category:updates OR unsubscribe"

// BuildQuery renders operator filters into a Gmail search query. An empty
// filter set yields an empty string; callers fall back to DefaultQuery.
// AfterDate/BeforeDate take precedence over OlderThan.
func BuildQuery(f model.Filters) string {
	var parts []string

	if f.AfterDate != "" {
		parts = append(parts, "after:"+f.AfterDate)
	}
	if f.BeforeDate != "" {
		parts = append(parts, "before:"+f.BeforeDate)
	}
	if f.AfterDate == "" && f.BeforeDate == "" && f.OlderThan != "" {
		parts = append(parts, "older_than:"+f.OlderThan)
	}

	if f.LargerThan != "" {
		parts = append(parts, "larger:"+f.LargerThan)
	}
	if f.Category != "" {
		parts = append(parts, "category:"+f.Category)
	}
	if f.Sender != "" {
		parts = append(parts, "from:"+f.Sender)
	}
	if f.Label != "" {
		parts = append(parts, "label:"+f.Label)
	}

	return strings.Join(parts, " ")
}
