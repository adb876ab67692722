//go:build !gst

package pipeline

// NewGstSource reports ErrGstUnavailable
func NewGstSource(Config) (Source, error) {
	return nil, ErrGstUnavailable
}
