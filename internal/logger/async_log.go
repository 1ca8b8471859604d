package logger

import (
	"XPusher/internal/utils"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDefaultMaxSize   = 100 // 日志文件最大尺寸，单位 MB
	logDefaultMaxBackup = 5   // 最大备份日志文件数
	logDefaultQueueSize = 1000
)

type logMessage struct {
	level   Level
	message string
}

// AsyncLogQueue writes log lines from a buffered channel into rotated files.
// Info and Warn go to <product>.log, Error goes to <product>.error.log.
type AsyncLogQueue struct {
	logPrefix    string
	logDir       string
	logMaxSize   int
	logMaxBackup int
	logQueueSize int
	logSaveDays  int
	console      io.Writer

	infoLog      *log.Logger
	errorLog     *log.Logger
	infoLogName  string
	errorLogName string
	rotators     []*lumberjack.Logger

	mutex     sync.RWMutex
	closed    bool
	chanQueue chan logMessage
	wg        sync.WaitGroup
}

type AsyncLogQueueOption func(*AsyncLogQueue)

func WithLogMaxSize(logMaxSize int) AsyncLogQueueOption {
	return func(f *AsyncLogQueue) {
		if logMaxSize > 0 {
			f.logMaxSize = logMaxSize
		}
	}
}

func WithLogMaxBackup(logMaxBackup int) AsyncLogQueueOption {
	return func(f *AsyncLogQueue) {
		if logMaxBackup > 0 {
			f.logMaxBackup = logMaxBackup
		}
	}
}

func WithLogQueueSize(logQueueSize int) AsyncLogQueueOption {
	return func(f *AsyncLogQueue) {
		if logQueueSize > 0 {
			f.logQueueSize = logQueueSize
		}
	}
}

func WithLogSaveDays(days int) AsyncLogQueueOption {
	return func(f *AsyncLogQueue) {
		f.logSaveDays = days
	}
}

// WithLogDir overrides the default "logs" directory next to the executable.
func WithLogDir(dir string) AsyncLogQueueOption {
	return func(f *AsyncLogQueue) {
		f.logDir = dir
	}
}

// WithConsole sets the writer log lines are mirrored to. nil disables mirroring.
func WithConsole(w io.Writer) AsyncLogQueueOption {
	return func(f *AsyncLogQueue) {
		f.console = w
	}
}

func NewAsyncLogQueue(product string, opts ...AsyncLogQueueOption) (q *AsyncLogQueue, err error) {
	logQueue := &AsyncLogQueue{
		logPrefix:    product + " ",
		infoLogName:  fmt.Sprintf("%s.log", product),
		errorLogName: fmt.Sprintf("%s.error.log", product),
		logMaxSize:   logDefaultMaxSize,
		logMaxBackup: logDefaultMaxBackup,
		logQueueSize: logDefaultQueueSize,
		console:      os.Stdout,
	}
	for _, opt := range opts {
		opt(logQueue)
	}

	err = logQueue.initLog()
	if err != nil {
		return nil, err
	}
	return logQueue, nil
}

// Stop flushes pending messages and closes the log files.
// Messages logged after Stop are dropped.
func (a *AsyncLogQueue) Stop() {
	a.mutex.Lock()
	if a.closed {
		a.mutex.Unlock()
		return
	}
	a.closed = true
	close(a.chanQueue)
	a.mutex.Unlock()

	a.wg.Wait()
	for _, r := range a.rotators {
		r.Close()
	}
}

func (a *AsyncLogQueue) add(msg logMessage) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if a.closed {
		return
	}
	a.chanQueue <- msg
}

func (a *AsyncLogQueue) handleLog(msg logMessage) {
	line := "[" + msg.level.String() + "] " + msg.message
	switch msg.level {
	case Info, Warn:
		a.infoLog.Output(2, line)
	case Error:
		a.errorLog.Output(2, line)
	}
}

// Log implements Writer.
func (a *AsyncLogQueue) Log(level Level, format string, args ...interface{}) {
	a.add(logMessage{level: level, message: fmt.Sprintf(format, args...)})
}

func (a *AsyncLogQueue) initLog() (err error) {
	if a.logDir == "" {
		exePath, err := utils.Executable()
		if err != nil {
			return fmt.Errorf("AsyncLogQueue.initLog error:%v", err)
		}
		a.logDir = filepath.Join(filepath.Dir(exePath), "logs")
	}
	err = utils.EnsureDir(a.logDir)
	if err != nil {
		return fmt.Errorf("AsyncLogQueue.initLog error:%v", err)
	}

	a.infoLog = a.openLogger(a.infoLogName)
	a.errorLog = a.openLogger(a.errorLogName)

	a.chanQueue = make(chan logMessage, a.logQueueSize)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for msg := range a.chanQueue {
			a.handleLog(msg)
		}
	}()

	return nil
}

func (a *AsyncLogQueue) openLogger(name string) *log.Logger {
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(a.logDir, name),
		MaxSize:    a.logMaxSize,   // megabytes
		MaxBackups: a.logMaxBackup, // number of files
		MaxAge:     a.logSaveDays,  // days
	}
	a.rotators = append(a.rotators, rotator)

	var out io.Writer = rotator
	if a.console != nil {
		out = io.MultiWriter(a.console, rotator)
	}
	return log.New(out, a.logPrefix, log.Ldate|log.Ltime|log.Lmicroseconds)
}
