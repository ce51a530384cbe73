package refresh

import (
	"fmt"
	"strings"
)

// ReportLine renders a single result the way the daily report mail words it
func (r *Registry) ReportLine(result LoadResult) string {
	entry, ok := r.entries[result.Table]
	if !ok {
		return fmt.Sprintf("%s table load not successful. Unknown table.", result.Table)
	}

	verb := "load"
	if entry.Derived() {
		verb = "creation"
	}

	switch {
	case !result.Succeeded:
		return fmt.Sprintf("%s table %s not successful. Using backup.", entry.name(), verb)
	case result.Stale():
		return fmt.Sprintf("%s table %s successful (built from stale dependency: %s).",
			entry.name(), verb, strings.Join(result.StaleDependencies, ", "))
	default:
		return fmt.Sprintf("%s table %s successful.", entry.name(), verb)
	}
}

// Report renders one line per result, in run order
func (r *Registry) Report(results []LoadResult) string {
	var sb strings.Builder
	for _, result := range results {
		sb.WriteString(r.ReportLine(result))
		sb.WriteByte('\n')
	}
	return sb.String()
}
