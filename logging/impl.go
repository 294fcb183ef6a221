package logging

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appenders []Appender
}

// message produces the text and fields of an entry. It only runs for entries that pass the level check.
type message func() (string, []zapcore.Field)

func sprint(args []interface{}) message {
	return func() (string, []zapcore.Field) {
		return fmt.Sprint(args...), nil
	}
}

func sprintf(template string, args []interface{}) message {
	return func() (string, []zapcore.Field) {
		return fmt.Sprintf(template, args...), nil
	}
}

// keyValues pairs odd elements (keys) with the even element after them. Values are json
// serialized, public fields only.
func keyValues(msg string, keysAndValues []interface{}) message {
	return func() (string, []zapcore.Field) {
		fields := make([]zapcore.Field, 0, len(keysAndValues)/2)
		for i := 0; i < len(keysAndValues); i += 2 {
			var key string
			if stringer, ok := keysAndValues[i].(fmt.Stringer); ok {
				key = stringer.String()
			} else {
				key = fmt.Sprintf("%v", keysAndValues[i])
			}
			if i+1 < len(keysAndValues) {
				fields = append(fields, zap.Any(key, keysAndValues[i+1]))
			} else {
				fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
			}
		}
		return msg, fields
	}
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

// write must be called directly from the exported level methods so the caller lookup lands on
// the code that logged.
func (imp *impl) write(level Level, msg message) {
	if level < imp.level.Get() {
		return
	}
	text, fields := msg()
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    text,
		Caller:     getCaller(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

func (imp *impl) Debug(args ...interface{}) { imp.write(DEBUG, sprint(args)) }

func (imp *impl) Debugf(template string, args ...interface{}) { imp.write(DEBUG, sprintf(template, args)) }

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.write(DEBUG, keyValues(msg, keysAndValues))
}

func (imp *impl) Info(args ...interface{}) { imp.write(INFO, sprint(args)) }

func (imp *impl) Infof(template string, args ...interface{}) { imp.write(INFO, sprintf(template, args)) }

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.write(INFO, keyValues(msg, keysAndValues))
}

func (imp *impl) Warn(args ...interface{}) { imp.write(WARN, sprint(args)) }

func (imp *impl) Warnf(template string, args ...interface{}) { imp.write(WARN, sprintf(template, args)) }

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.write(WARN, keyValues(msg, keysAndValues))
}

func (imp *impl) Error(args ...interface{}) { imp.write(ERROR, sprint(args)) }

func (imp *impl) Errorf(template string, args ...interface{}) { imp.write(ERROR, sprintf(template, args)) }

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.write(ERROR, keyValues(msg, keysAndValues))
}

// getCaller skips itself, write and the level method. Return example: "logging/impl_test.go:36".
func getCaller() zapcore.EntryCaller {
	const skipToLogCaller = 3
	var entryCaller zapcore.EntryCaller
	var ok bool
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if fn := runtime.FuncForPC(entryCaller.PC); fn != nil {
		entryCaller.Function = fn.Name()
	}
	return entryCaller
}
