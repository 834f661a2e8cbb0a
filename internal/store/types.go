package store

// SeqRef is the identity and sequence of a stored message, as used when
// scanning a stream for sequence gaps.
type SeqRef struct {
	ID       int64
	Sequence int32
}

// Watermark is the persisted sequence interval [Low, High] of a stream that
// has been verified to contain no gaps.
type Watermark struct {
	Low  int32
	High int32
}

// Contains reports whether the whole interval [low, high] lies inside w.
func (w Watermark) Contains(low, high int32) bool {
	return low >= w.Low && high <= w.High
}
