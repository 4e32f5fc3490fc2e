package fongo

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	globalLogger *logrus.Logger
	loggerOnce   sync.Once
	loggerMu     sync.RWMutex
)

// initGlobalLogger 初始化全局日志器（使用 logrus）
func initGlobalLogger() {
	loggerOnce.Do(func() {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		l.SetOutput(os.Stderr)
		loggerMu.Lock()
		if globalLogger == nil {
			globalLogger = l
		}
		loggerMu.Unlock()
	})
}

// GetLogger 获取全局 logrus 日志器
func GetLogger() *logrus.Logger {
	initGlobalLogger()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return globalLogger
}

// SetLogger 设置全局日志器，已创建的 Client 不受影响
func SetLogger(logger *logrus.Logger) {
	initGlobalLogger()
	loggerMu.Lock()
	globalLogger = logger
	loggerMu.Unlock()
}

// SetLogLevel 设置日志级别
func SetLogLevel(level logrus.Level) {
	GetLogger().SetLevel(level)
}

// SetLogOutput 设置日志输出
func SetLogOutput(output io.Writer) {
	GetLogger().SetOutput(output)
}

// SetLogFormatter 设置日志格式
func SetLogFormatter(formatter logrus.Formatter) {
	GetLogger().SetFormatter(formatter)
}
