package console

import "io"

// newBlockingInput returns a reader that blocks until the returned func
// is called.
func newBlockingInput() (io.Reader, func()) {
	r, w := io.Pipe()
	return r, func() { _ = w.Close() }
}
