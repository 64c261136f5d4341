package pipeline

// MergeWorkItems returns existing followed by every discovered item whose URL
// is not already present in existing, in discovery order. Neither input is
// mutated.
func MergeWorkItems(existing, discovered []WorkItem) []WorkItem {
	seen := make(map[string]bool, len(existing))
	for _, item := range existing {
		seen[item.URL] = true
	}

	merged := make([]WorkItem, 0, len(existing)+len(discovered))
	merged = append(merged, existing...)

	for _, item := range discovered {
		if seen[item.URL] {
			continue
		}
		seen[item.URL] = true
		merged = append(merged, item)
	}

	return merged
}

// DedupeWorkItems keeps the first occurrence of each URL, preserving order.
// Merge already guarantees uniqueness; this guards save paths against
// hand-edited inputs.
func DedupeWorkItems(items []WorkItem) []WorkItem {
	seen := make(map[string]bool, len(items))
	out := make([]WorkItem, 0, len(items))
	for _, item := range items {
		if seen[item.URL] {
			continue
		}
		seen[item.URL] = true
		out = append(out, item)
	}
	return out
}

// MergeRecords combines existing and incoming records deduplicated by URL.
// An incoming record replaces any existing record with the same URL entirely
// (a fresh parse always wins over stale data), keeping the existing record's
// position. Incoming records with new URLs are appended in incoming order.
// Pure and total: inputs are never mutated and no shape of input fails.
func MergeRecords(existing, incoming []Record) []Record {
	replacements := make(map[string]Record, len(incoming))
	for _, rec := range incoming {
		replacements[rec.URL] = rec
	}

	merged := make([]Record, 0, len(existing)+len(incoming))
	replaced := make(map[string]bool, len(incoming))

	for _, rec := range existing {
		if repl, ok := replacements[rec.URL]; ok {
			merged = append(merged, repl)
			replaced[rec.URL] = true
		} else {
			merged = append(merged, rec)
		}
	}

	for _, rec := range incoming {
		if replaced[rec.URL] {
			continue
		}
		// Incoming may itself carry duplicates; last write wins for the
		// replacement map above, first appearance wins for append order.
		if _, ok := replacements[rec.URL]; ok {
			merged = append(merged, replacements[rec.URL])
			replaced[rec.URL] = true
		}
	}

	return merged
}
