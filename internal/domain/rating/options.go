package rating

// Option applies a configuration option to the Processor.
type Option func(*Processor)

// WithScale sets the logistic divisor. Non-positive values are ignored.
func WithScale(scale float64) Option {
	return func(p *Processor) {
		if scale > 0 && finite(scale) {
			p.scale = scale
		}
	}
}

// WithMode sets how invalid Strich counts are handled.
func WithMode(mode Mode) Option {
	return func(p *Processor) {
		p.mode = mode
	}
}
