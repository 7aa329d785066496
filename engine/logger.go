package engine

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the package's default logger, a no-op unless the
// embedding runtime supplies its own through Instantiate. The
// dispatch loop itself never logs; only instantiation and
// suspend/resume paths do, at Debug.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}
