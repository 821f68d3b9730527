package state

// Wire payloads carry keyed entities as arrays; the cache stores them as maps
// for O(1) mutation. indexBy converts an array to map form on ingestion and
// deindex restores list form before guild data is exposed externally.

func indexBy[T any](xs []T, key func(T) string) map[string]T {
	m := make(map[string]T, len(xs))
	for _, x := range xs {
		m[key(x)] = x
	}
	return m
}

func deindex[T any](m map[string]T) []T {
	if len(m) == 0 {
		return nil
	}
	xs := make([]T, 0, len(m))
	for _, x := range m {
		xs = append(xs, x)
	}
	return xs
}
