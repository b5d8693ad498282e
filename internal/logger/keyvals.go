package logger

import "fmt"

// KV adapts a Logger to the Debug(msg, keysAndValues...) shape used by the
// orm and handlers packages.
type KV struct {
	Logger Logger
}

func NewKV(l Logger) KV {
	return KV{Logger: l}
}

func (k KV) Debug(msg string, keysAndValues ...interface{}) {
	k.with(keysAndValues).Debug(msg)
}

func (k KV) Info(msg string, keysAndValues ...interface{}) {
	k.with(keysAndValues).Info(msg)
}

func (k KV) Warn(msg string, keysAndValues ...interface{}) {
	k.with(keysAndValues).Warn(msg)
}

func (k KV) Error(msg string, keysAndValues ...interface{}) {
	k.with(keysAndValues).Error(msg)
}

func (k KV) with(keysAndValues []interface{}) Logger {
	if len(keysAndValues) == 0 {
		return k.Logger
	}
	fields := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields["!BADKEY"] = keysAndValues[i]
			break
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields[key] = err.Error()
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return k.Logger.WithFields(fields)
}
