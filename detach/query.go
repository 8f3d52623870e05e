package detach

import (
	"github.com/jyothri/detach/config"
)

// BuildQuery turns the settings block into a Gmail search expression.
// Clause order is fixed: attachment, size, before, after.
func BuildQuery(s Settings) string {
	q := "has:attachment"
	if s.MinSize != "" {
		q += " larger:" + s.MinSize
	}
	if !s.Before.IsZero() {
		q += " before:" + config.FormatDate(s.Before)
	}
	if !s.After.IsZero() {
		q += " after:" + config.FormatDate(s.After)
	}
	return q
}
