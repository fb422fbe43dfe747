package fn

// FilterMap returns f(v) for every v where f reports true, preserving order.
func FilterMap[T, U any](items []T, f func(T) (U, bool)) []U {
	out := make([]U, 0, len(items))
	for _, v := range items {
		if u, ok := f(v); ok {
			out = append(out, u)
		}
	}
	return out
}
