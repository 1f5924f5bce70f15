package pipe

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// DebugLevel 是调试输出级别
type DebugLevel int

// 调试输出级别，从低到高
const (
	LevelError DebugLevel = iota // 只输出错误，默认级别
	LevelInfo                    // 阶段启动/关闭等过程信息
	LevelDebug                   // 描述符注册等循环细节
	LevelTrace                   // 每次读写的字节数
)

// pipeLogger 包装了一个带管道标识字段的 logrus 日志器。
// 每个 ExecPipe 有独立的日志器，级别和输出互不影响
type pipeLogger struct {
	*logrus.Entry
}

func newPipeLogger(id string) *pipeLogger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.ErrorLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &pipeLogger{Entry: l.WithField("pipe", id)}
}

func (l *pipeLogger) setLevel(lvl DebugLevel) {
	switch lvl {
	case LevelInfo:
		l.Logger.SetLevel(logrus.InfoLevel)
	case LevelDebug:
		l.Logger.SetLevel(logrus.DebugLevel)
	case LevelTrace:
		l.Logger.SetLevel(logrus.TraceLevel)
	default:
		l.Logger.SetLevel(logrus.ErrorLevel)
	}
}

func (l *pipeLogger) setOutput(fn func(line string)) {
	if fn == nil {
		l.Logger.SetOutput(os.Stdout)
		return
	}
	l.Logger.SetOutput(lineWriter{fn: fn})
}

// lineWriter 把日志器的每次写入作为一行交给回调，
// 去掉末尾的换行符
type lineWriter struct {
	fn func(line string)
}

func (w lineWriter) Write(p []byte) (int, error) {
	w.fn(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
