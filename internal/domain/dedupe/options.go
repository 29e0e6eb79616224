package dedupe

// Option applies a configuration option to the deduper.
type Option func(*inMemoryDeduper)

// WithSeed preloads keys that were persisted by earlier passes. Seeded keys
// are not reported by Added.
func WithSeed(keys []string) Option {
	return func(d *inMemoryDeduper) {
		for _, k := range keys {
			d.seen[k] = struct{}{}
		}
	}
}
