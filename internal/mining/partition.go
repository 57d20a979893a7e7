package mining

// Range is an inclusive nonce interval.
type Range struct {
	Min uint32
	Max uint32
}

// Size is the number of nonces in r.
func (r Range) Size() uint64 {
	return uint64(r.Max) - uint64(r.Min) + 1
}

// Partition splits [min, max] into at most n contiguous disjoint ranges of
// equal size, with any remainder added to the last range. It returns fewer
// ranges when the interval holds fewer than n nonces.
func Partition(min, max uint32, n int) []Range {
	if min > max {
		return nil
	}
	if n < 1 {
		n = 1
	}

	total := uint64(max) - uint64(min) + 1
	if uint64(n) > total {
		n = int(total)
	}

	chunk := total / uint64(n)
	ranges := make([]Range, n)
	for i := range n {
		start := uint64(min) + uint64(i)*chunk
		end := start + chunk - 1
		if i == n-1 {
			end = uint64(max)
		}
		ranges[i] = Range{Min: uint32(start), Max: uint32(end)}
	}
	return ranges
}
