//go:build !linux

package ping

func platformBinder() Binder {
	return unboundBinder{}
}
