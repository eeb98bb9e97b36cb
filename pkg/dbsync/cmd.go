package dbsync

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// logCommandResult logs how a command ended and how long it took
func logCommandResult(name string, start time.Time, err error) {
	logger := logrus.WithField("duration", time.Since(start))
	if err != nil {
		var stackErr stackTracer
		if errors.As(err, &stackErr) {
			logger = logger.WithField("stacktrace", stackErr.StackTrace())
		}
		logger.WithError(err).Errorf("%s failed: %v", name, err)
	} else {
		logger.Infof("%s success", name)
	}
}
