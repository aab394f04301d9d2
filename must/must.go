// Package must holds assertions for conditions the surrounding code has
// already made impossible. Tripping one is a programming error, not a
// runtime failure to handle.
package must

func Be(expr bool, msg string) {
	if !expr {
		panic("assertion failed: " + msg)
	}
}
