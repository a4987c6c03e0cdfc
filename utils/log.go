package utils

/*
A tagged leveled logger. Every subsystem owns one via NewLogger("tag"),
all of them share a zap core and a single atomic level.
*/

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogErrorLevel int = 0
	LogWarnLevel  int = 1
	LogInfoLevel  int = 2
	LogDebugLevel int = 3

	defaultCallerSkip = 1
)

// baseLogger and stdoutLog are built in their initializers so that package
// level loggers such as udpLogger can be created during variable init
var (
	atomicLevel = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logLevel    = LogDebugLevel
	baseLogger  = newBaseLogger()
	stdoutLog   = NewLogger("")
)

func newBaseLogger() *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		atomicLevel,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(defaultCallerSkip))
}

// SetLogLevel changes the level of every logger created by NewLogger
func SetLogLevel(level int) {
	logLevel = level
	switch level {
	case LogErrorLevel:
		atomicLevel.SetLevel(zapcore.ErrorLevel)
	case LogWarnLevel:
		atomicLevel.SetLevel(zapcore.WarnLevel)
	case LogInfoLevel:
		atomicLevel.SetLevel(zapcore.InfoLevel)
	default:
		atomicLevel.SetLevel(zapcore.DebugLevel)
	}
}

func GetLogLevel() int {
	return logLevel
}

func GetStdoutLog() *Logger {
	return stdoutLog
}

// Sync flushes buffered log entries, call it before the process exits
func Sync() {
	_ = baseLogger.Sync()
}

type Logger struct {
	s *zap.SugaredLogger
}

func NewLogger(tag string) *Logger {
	l := baseLogger
	if len(tag) != 0 {
		l = l.Named(tag)
	}
	return &Logger{s: l.Sugar()}
}

// callers pass printf formats ending in "\n", zap adds its own
func trim(msg string) string {
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		return msg[:n-1]
	}
	return msg
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.s.Error(trim(fmt.Sprintf(format, v...)))
	Sync()
	os.Exit(1)
}

func (l *Logger) Fatalln(v ...interface{}) {
	l.s.Error(trim(fmt.Sprintln(v...)))
	Sync()
	os.Exit(1)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.s.Error(trim(fmt.Sprintf(format, v...)))
}

func (l *Logger) Errorln(v ...interface{}) {
	l.s.Error(trim(fmt.Sprintln(v...)))
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.s.Warn(trim(fmt.Sprintf(format, v...)))
}

func (l *Logger) Warnln(v ...interface{}) {
	l.s.Warn(trim(fmt.Sprintln(v...)))
}

func (l *Logger) Info(format string, v ...interface{}) {
	if !atomicLevel.Enabled(zapcore.InfoLevel) {
		return
	}
	l.s.Info(trim(fmt.Sprintf(format, v...)))
}

func (l *Logger) Infoln(v ...interface{}) {
	l.s.Info(trim(fmt.Sprintln(v...)))
}

func (l *Logger) Debug(format string, v ...interface{}) {
	if !atomicLevel.Enabled(zapcore.DebugLevel) {
		return
	}
	l.s.Debug(trim(fmt.Sprintf(format, v...)))
}

func (l *Logger) Debugln(v ...interface{}) {
	l.s.Debug(trim(fmt.Sprintln(v...)))
}
