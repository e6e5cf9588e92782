package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mpilhlt/pe-platform-classes/internal/models"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Formatter writes one line per entry: time, level, message and sorted fields.
type Formatter struct {
	SystemName string
}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s %-5s [%s] %s", entry.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		strings.ToUpper(entry.Level.String()), f.SystemName, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger for the task. Output goes to stderr, since stdout
// carries the task result, or to a rotated file when options.LogFile is set.
// The returned closer releases the file.
func New(options *models.Options) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetFormatter(&Formatter{SystemName: "pe-platform-classes"})
	logger.SetLevel(logrus.InfoLevel)
	if options.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	if options.LogFile == "" {
		logger.SetOutput(os.Stderr)
		return logger, nopCloser{}
	}

	logFile := &lumberjack.Logger{
		Filename:   options.LogFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	logger.SetOutput(logFile)
	logger.Debugf("Logging to %s", logFile.Filename)
	return logger, logFile
}
