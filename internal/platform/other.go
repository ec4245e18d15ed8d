//go:build !linux && !windows && !darwin

package platform

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

func New(_ *zap.SugaredLogger) (Handler, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
}
