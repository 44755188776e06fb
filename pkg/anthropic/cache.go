package anthropic

// CachedSystem returns a single system block marked for ephemeral prompt
// caching. Every turn of a tool loop resends the same system prompt, so
// later turns read it from cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: "5m"}}}
}
