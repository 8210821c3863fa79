package protocol

type options struct {
	compressionThreshold int
	maxFrameSize         int
	validateSchema       bool
}

func defaultOptions() options {
	return options{
		compressionThreshold: 1024,
		maxFrameSize:         4 << 20,
	}
}

type Option func(*options)

// WithCompressionThreshold compresses bodies of at least n bytes. A negative n
// disables compression.
func WithCompressionThreshold(n int) Option {
	return func(o *options) {
		o.compressionThreshold = n
	}
}

// WithMaxFrameSize rejects frames larger than n bytes, before and after
// decompression.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithSchemaValidation validates every decoded envelope against the envelope
// JSON schema.
func WithSchemaValidation(enabled bool) Option {
	return func(o *options) {
		o.validateSchema = enabled
	}
}
