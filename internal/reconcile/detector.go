package reconcile

// NeedsUpdate decides whether a record's stored embeddings are stale relative
// to the record's last-modified timestamp.
//
// Returns true if no embeddings exist, or if any existing embedding's
// updated_at is missing or lexicographically less than currentUpdatedAt.
// Comparison is string-based over the canonical timestamp serialization, not
// parsed-date comparison; see FormatTimestamp.
func NeedsUpdate(existing []Embedding, currentUpdatedAt string) bool {
	if len(existing) == 0 {
		return true
	}
	for _, emb := range existing {
		if emb.Metadata.UpdatedAt == "" || emb.Metadata.UpdatedAt < currentUpdatedAt {
			return true
		}
	}
	return false
}
