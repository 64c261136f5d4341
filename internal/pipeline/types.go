package pipeline

// WorkItem is a unit of pending fetch work: a product URL plus whatever
// metadata the discovery step attached to it. Identity is the URL; metadata
// is replaced wholesale on re-discovery, never patched field by field.
type WorkItem struct {
	URL      string
	Metadata map[string]string
}

// FetchResult is produced exactly once per WorkItem per run. It is transient:
// the extractor consumes it immediately and only the derived Record survives.
type FetchResult struct {
	URL     string
	Payload []byte
	Err     error
}

// Record is one keyed row of extracted fields. The field set is open: newer
// extractor versions add columns and the persisted table grows its header to
// the union of all keys.
type Record struct {
	URL    string
	Fields map[string]string
}

// Field returns the named field or "" when absent.
func (r Record) Field(key string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// Set assigns a field, allocating the map on first use.
func (r *Record) Set(key, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[key] = value
}
