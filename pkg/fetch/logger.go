package fetch

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// restyLogger adapts zerolog to resty.Logger.
type restyLogger struct {
	logger zerolog.Logger
}

func newRestyLogger(l zerolog.Logger) *restyLogger {
	return &restyLogger{logger: l.With().Str("client", "resty").Logger()}
}

func (l *restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
