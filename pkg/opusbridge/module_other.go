//go:build !linux && !darwin

package opusbridge

import (
	"errors"
	"runtime"
)

func openNative(path string) (Module, error) {
	return nil, errors.New("native opus loading not supported on " + runtime.GOOS)
}
