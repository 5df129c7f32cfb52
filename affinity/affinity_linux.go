//go:build linux

package affinity

import "golang.org/x/sys/unix"

func current() ThreadID {
	return ThreadID(unix.Gettid())
}
