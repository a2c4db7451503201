package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the timestamp layout of every console line.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Log files roll over at this many megabytes and keep this many old files.
const (
	fileMaxSizeMB  = 64
	fileMaxBackups = 3
)

// Appender receives entries from a Logger. Any zapcore.Core satisfies it.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync flushes anything buffered by Write.
	Sync() error
}

// ConsoleAppender writes one tab separated line per entry.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender returns a ConsoleAppender on stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender returns a ConsoleAppender on writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer}
}

// NewFileAppender returns a ConsoleAppender on a size-rotated file. The closer releases the file.
func NewFileAppender(filename string) (ConsoleAppender, io.Closer) {
	file := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    fileMaxSizeMB,
		MaxBackups: fileMaxBackups,
	}
	return NewWriterAppender(file), file
}

func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatLine(entry, fields)
	fmt.Fprintln(appender.Writer, line)
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}

// formatLine renders time, level, logger name, caller and message separated by tabs, followed by
// the fields as a json object in the order they were given. When the fields cannot be encoded
// the line is returned without them alongside the error.
func formatLine(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	parts := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
	}
	if entry.Caller.Defined {
		parts = append(parts, shortCaller(entry.Caller))
	}
	parts = append(parts, entry.Message)
	if len(fields) > 0 {
		encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
		buf, err := encoder.EncodeEntry(zapcore.Entry{}, fields)
		if err != nil {
			return strings.Join(parts, "\t"), err
		}
		parts = append(parts, buf.String())
		buf.Free()
	}
	return strings.Join(parts, "\t"), nil
}

// shortCaller keeps the last directory and file name of the caller, e.g. "calib/solver.go:42".
func shortCaller(caller zapcore.EntryCaller) string {
	file := caller.File
	if dir := strings.LastIndexByte(file, '/'); dir >= 0 {
		if parent := strings.LastIndexByte(file[:dir], '/'); parent >= 0 {
			file = file[parent+1:]
		}
	}
	return fmt.Sprintf("%s:%d", file, caller.Line)
}
