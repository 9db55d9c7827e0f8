package codec

import "fmt"

// Limit wraps another codec to enforce a maximum payload size at Decode
// time; Encode passes through unchanged. MaxDecode <= 0 disables the check.
//
// Typical use: protect against oversized entries coming from a shared cache
// that other writers may touch.
type Limit[V any] struct {
	// Inner is the wrapped codec. Must be set.
	Inner Codec[V]

	// MaxDecode is the maximum permitted incoming payload length in bytes.
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
