package logger

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronLogger routes robfig/cron's internal logging through Logger.
type cronLogger struct {
	log Logger
}

// NewCronLogger adapts log to cron.Logger. Cron's info chatter is emitted at debug.
func NewCronLogger(log Logger) cron.Logger {
	return &cronLogger{log: log.With(Component("cron"))}
}

func (c *cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(msg, kvFields(keysAndValues)...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(msg, append(kvFields(keysAndValues), Error(err))...)
}

func kvFields(keysAndValues []any) []Field {
	fields := make([]Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, Any(key, keysAndValues[i+1]))
	}
	return fields
}
