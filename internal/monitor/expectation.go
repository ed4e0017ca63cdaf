package monitor

import "math"

const defaultDeviation = 15

// Expectation decides whether an observed tach input is consistent with the
// commanded target.
type Expectation interface {
	Expected(target uint64, factor, offset int64) int64
	Consistent(input, expected int64) bool
}

// Linear maps a target to target*factor/Divisor - offset and accepts inputs
// within Deviation percent of that value.
type Linear struct {
	Divisor   int64
	Deviation int64
}

// NewLinear returns the default expectation for a fan's allowed deviation
func NewLinear(deviation int64) Linear {
	if deviation < 0 || deviation > 100 {
		deviation = defaultDeviation
	}
	return Linear{Divisor: 1, Deviation: deviation}
}

func (l Linear) Expected(target uint64, factor, offset int64) int64 {
	divisor := l.Divisor
	if divisor <= 0 {
		divisor = 1
	}

	t := int64(math.MaxInt64)
	if target < math.MaxInt64 {
		t = int64(target)
	}

	expected := mulSaturate(t, factor)/divisor - offset
	if expected < 0 {
		return 0
	}
	return expected
}

func (l Linear) Consistent(input, expected int64) bool {
	if input < 0 {
		return false
	}

	diff := input - expected
	if diff < 0 {
		diff = -diff
	}

	return diff <= mulSaturate(expected, l.Deviation)/100
}

func mulSaturate(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	r := a * b
	if r/b != a {
		if (a > 0) == (b > 0) {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return r
}
