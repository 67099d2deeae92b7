package engine

import (
	"sort"
	"strconv"
)

// extract applies the configured metric patterns to the output text.
// The first match per metric wins. It returns the extracted values and
// the sorted names of mandatory metrics that produced no value.
func (r *runner) extract(output string) (map[string]int64, []string) {
	metrics := make(map[string]int64, len(r.metrics))

	var missing []string

	for name, m := range r.metrics {
		match := m.re.FindStringSubmatch(output)
		if match == nil {
			if m.mandatory {
				missing = append(missing, name)
			}

			continue
		}

		value, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			if m.mandatory {
				missing = append(missing, name)
			}

			continue
		}

		metrics[name] = value
	}

	sort.Strings(missing)

	return metrics, missing
}
