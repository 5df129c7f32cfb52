//go:build !linux

package selector

import "fmt"

// New reports an error on platforms other than Linux. The runtime's
// non-blocking I/O pipeline is specified against a level-triggered epoll
// selector; a kqueue backend would need the same Selector interface
// implemented against EVFILT_READ/EVFILT_WRITE, which is future work, not
// part of this core.
func New() (Selector, error) {
	return nil, fmt.Errorf("selector: no non-blocking readiness backend for this platform")
}
