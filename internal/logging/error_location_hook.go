package logging

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const errorFileField = "error.file"

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// ErrorLocationHook adds the origin of a pkg/errors error to the entry
// when one is attached under logrus.ErrorKey.
type ErrorLocationHook struct{}

func (h *ErrorLocationHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ErrorLocationHook) Fire(entry *logrus.Entry) error {
	errObj, ok := entry.Data[logrus.ErrorKey]
	if !ok {
		return nil
	}
	err, ok := errObj.(error)
	if !ok {
		return nil
	}

	var tracer stackTracer
	if !errors.As(err, &tracer) {
		return nil
	}
	trace := tracer.StackTrace()
	if len(trace) == 0 {
		return nil
	}

	entry.Data[errorFileField] = fmt.Sprintf("%+s:%d", trace[0], trace[0])
	return nil
}
