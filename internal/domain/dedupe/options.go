package dedupe

// Option configures the in-memory Deduper.
type Option func(*ring)

// WithMaxSize sets how many IDs are remembered. A value <= 0 remembers
// every ID.
func WithMaxSize(maxSize int) Option {
	return func(d *ring) {
		d.maxSize = maxSize
	}
}
