package fn

// Map applies f to every element of s and returns the results in order.
func Map[I, O any, S []I](s S, f func(I) O) []O {
	output := make([]O, len(s))
	for i, x := range s {
		output[i] = f(x)
	}

	return output
}

// NewSet creates a set from the passed items.
func NewSet[T comparable](items ...T) map[T]struct{} {
	set := make(map[T]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}

	return set
}
