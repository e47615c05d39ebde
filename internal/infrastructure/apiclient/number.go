package apiclient

import "math"

// maxExactFloat is the largest integer a float64 holds without rounding.
const maxExactFloat = 1 << 53

// Integer reports v as an int64 when it is a JSON number with no fractional
// part. It accepts json.Number (from a UseNumber decoder) and float64.
func Integer(v any) (int64, bool) {
	switch n := v.(type) {
	case interface {
		Int64() (int64, error)
		Float64() (float64, error)
	}:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return exactFloat(f)
	case float64:
		return exactFloat(n)
	}
	return 0, false
}

func exactFloat(f float64) (int64, bool) {
	if f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
		return 0, false
	}
	return int64(f), true
}
