package cache

// Structural memory estimation. Exactness is not required; the estimate
// only has to order entries consistently for eviction decisions.

const (
	bytesPerRune    = 2
	bytesPerFloat32 = 4
	entryOverhead   = 64
)

// EstimateSize returns an approximate in-memory footprint for a cached
// value, recursing into the composite shapes the pipeline actually caches.
func EstimateSize(value any) int64 {
	return entryOverhead + estimate(value)
}

func estimate(value any) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case string:
		return int64(len(v)) * bytesPerRune
	case []byte:
		return int64(len(v))
	case []float32:
		return int64(len(v)) * bytesPerFloat32
	case [][]float32:
		var n int64
		for _, inner := range v {
			n += int64(len(inner)) * bytesPerFloat32
		}
		return n
	case []string:
		var n int64
		for _, s := range v {
			n += int64(len(s)) * bytesPerRune
		}
		return n
	case map[string]string:
		var n int64
		for k, s := range v {
			n += int64(len(k)+len(s)) * bytesPerRune
		}
		return n
	case map[string]any:
		var n int64
		for k, inner := range v {
			n += int64(len(k))*bytesPerRune + estimate(inner)
		}
		return n
	case []any:
		var n int64
		for _, inner := range v {
			n += estimate(inner)
		}
		return n
	default:
		// Scalars and unknown shapes count as a single word-ish unit.
		return 8
	}
}
