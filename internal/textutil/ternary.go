package textutil

// Ternary returns yes when cond holds and no otherwise. It keeps short
// either-or display strings on one line at call sites.
func Ternary[T any](cond bool, yes, no T) T {
	if cond {
		return yes
	}
	return no
}
