package cryptobox

import "log/slog"

// Option configures a Box.
type Option func(*Box)

// WithLogger sets the logger for diagnostics.
// If not set, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(b *Box) {
		if l != nil {
			b.logger = l
		}
	}
}
