//go:build !linux

package affinity

func current() ThreadID {
	return 0
}
