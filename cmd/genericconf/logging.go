// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package genericconf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var globalFileWriter = &fileWriter{}

// fileWriter hands log records to a lumberjack logger through a bounded
// queue. Records are dropped while the queue is full.
type fileWriter struct {
	mutex  sync.RWMutex // guards queue against close
	writer *lumberjack.Logger
	queue  chan []byte
	done   chan struct{}
}

func (w *fileWriter) Write(p []byte) (int, error) {
	record := append([]byte(nil), p...)
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	select {
	case w.queue <- record:
	default:
	}
	return len(p), nil
}

// open is not threadsafe
func (w *fileWriter) open(config *FileLoggingConfig, filename string) io.Writer {
	w.writer = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		LocalTime:  config.LocalTime,
		Compress:   config.Compress,
	}
	queue := make(chan []byte, config.BufSize)
	done := make(chan struct{})
	w.mutex.Lock()
	w.queue = queue
	w.mutex.Unlock()
	w.done = done
	writer := w.writer
	go func() {
		defer close(done)
		for record := range queue {
			_, _ = writer.Write(record)
		}
	}()
	return w
}

// close flushes queued records and closes the file. It is not threadsafe.
func (w *fileWriter) close() error {
	w.mutex.Lock()
	queue := w.queue
	w.queue = nil
	w.mutex.Unlock()
	if queue == nil {
		return nil
	}
	close(queue)
	<-w.done
	w.done = nil
	err := w.writer.Close()
	w.writer = nil
	return err
}

func HandlerFromLogType(logType string, output io.Writer) (slog.Handler, error) {
	switch logType {
	case "plaintext":
		return log.NewTerminalHandler(output, false), nil
	case "json":
		return log.JSONHandler(output), nil
	}
	return nil, fmt.Errorf("invalid log type: %q", logType)
}

// legacyLevels maps the numeric verbosities of older releases.
var legacyLevels = []slog.Level{
	log.LevelCrit,
	log.LevelError,
	log.LevelWarn,
	log.LevelInfo,
	log.LevelDebug,
	log.LevelTrace,
}

func ToSlogLevel(str string) (slog.Level, error) {
	switch strings.ToLower(str) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	if n, err := strconv.Atoi(str); err == nil && n >= 0 && n < len(legacyLevels) {
		return legacyLevels[n], nil
	}
	return slog.Level(0), errors.New("invalid log level: " + str)
}

// InitLog replaces the default logger. It is not threadsafe.
func InitLog(logType string, logLevel string, fileLoggingConfig *FileLoggingConfig, pathResolver func(string) string) error {
	if err := globalFileWriter.close(); err != nil {
		return fmt.Errorf("failed to close file writer: %w", err)
	}
	var output io.Writer = os.Stderr
	if fileLoggingConfig.Enable {
		output = io.MultiWriter(
			output,
			globalFileWriter.open(fileLoggingConfig, pathResolver(fileLoggingConfig.File)),
		)
	}
	handler, err := HandlerFromLogType(logType, output)
	if err != nil {
		return fmt.Errorf("error parsing log type when creating handler: %w", err)
	}
	level, err := ToSlogLevel(logLevel)
	if err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	return nil
}

// CloseLog flushes and closes the file logger, if any.
func CloseLog() error {
	return globalFileWriter.close()
}
