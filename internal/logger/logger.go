package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Logger struct {
	mu           sync.Mutex
	terminal     io.Writer
	logFile      io.WriteCloser
	colorEnabled bool
	minLevel     LogLevel
}

// NewLogger writes colored lines to stdout and JSON lines to
// logs/<service>-<date>.log.
func NewLogger(service string) *Logger {
	if err := os.MkdirAll("logs", 0755); err != nil {
		log.Fatal("Failed to create logs directory:", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	logFileName := fmt.Sprintf("logs/%s-%s.log", service, timestamp)

	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatal("Failed to create log file:", err)
	}

	logger := &Logger{
		terminal:     os.Stdout,
		logFile:      logFile,
		colorEnabled: true,
		minLevel:     levelFromString(os.Getenv("LOG_LEVEL")),
	}

	logger.Info("LOGGER", "Logging system initialized")
	logger.Info("LOGGER", fmt.Sprintf("Log file: %s", logFileName))

	return logger
}

// NewLoggerWithWriter writes plain terminal lines to w and keeps no file.
// Used by tests and the admin CLI.
func NewLoggerWithWriter(w io.Writer) *Logger {
	return &Logger{terminal: w, minLevel: DEBUG}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if l == nil || level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.terminal, l.formatTerminalOutput(entry))
	if l.logFile != nil {
		if line, err := json.Marshal(entry); err == nil {
			l.logFile.Write(append(line, '\n'))
		}
	}
}

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR", FATAL: "FATAL"}

func (lv LogLevel) String() string {
	if lv < DEBUG || lv > FATAL {
		return "INFO"
	}
	return levelNames[lv]
}

var levelColors = map[string]color.Attribute{
	"DEBUG": color.FgCyan,
	"INFO":  color.FgGreen,
	"WARN":  color.FgYellow,
	"ERROR": color.FgRed,
	"FATAL": color.FgRed,
}

// formatTerminalOutput renders "hh:mm:ss LEVEL [CATEGORY  ] message", with
// the caller appended when colors are on.
func (l *Logger) formatTerminalOutput(entry LogEntry) string {
	clock := entry.Timestamp[11:19]
	if !l.colorEnabled {
		return fmt.Sprintf("%s %-5s [%-10s] %s\n", clock, entry.Level, entry.Category, entry.Message)
	}

	attr, ok := levelColors[entry.Level]
	if !ok {
		attr = color.FgWhite
	}
	var b strings.Builder
	color.New(color.FgBlue).Fprint(&b, clock)
	b.WriteByte(' ')
	color.New(attr).Fprintf(&b, "%-5s", entry.Level)
	b.WriteByte(' ')
	color.New(attr, color.Bold).Fprintf(&b, "[%-10s]", entry.Category)
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	if entry.File != "" && entry.Line > 0 {
		color.New(color.FgMagenta).Fprintf(&b, " (%s:%d)", entry.File, entry.Line)
	}
	b.WriteByte('\n')
	return b.String()
}

func levelFromString(s string) LogLevel {
	for lv, name := range levelNames {
		if strings.EqualFold(s, name) && LogLevel(lv) != FATAL {
			return LogLevel(lv)
		}
	}
	return INFO
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	os.Exit(1)
}

// Component helpers
func (l *Logger) LogCheckIn(code, outcome, message string) {
	l.Info("CHECKIN", fmt.Sprintf("[%s] %s - %s", outcome, maskCode(code), message))
}

func (l *Logger) LogLifecycle(action, eventID, message string) {
	l.Info("LIFECYCLE", fmt.Sprintf("[%s] %s - %s", action, eventID, message))
}

func (l *Logger) LogOrder(action, orderID, message string) {
	l.Info("ORDER", fmt.Sprintf("[%s] %s - %s", action, orderID, message))
}

// LogAPI records one served request. route is the router pattern, never the
// raw path, since paths carry ticket codes.
func (l *Logger) LogAPI(method, route string, status int, elapsed time.Duration) {
	msg := fmt.Sprintf("%s %s - %d (%s)", method, route, status, elapsed.Round(time.Microsecond))
	if status >= 500 {
		l.Error("API", msg)
		return
	}
	l.Debug("API", msg)
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.Info("KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.Info("DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.Warn("SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.Info("LOGGER", "Closing log file")
		l.logFile.Close()
	}
}

// Ticket codes are credentials; only a prefix ever reaches the logs.
func maskCode(code string) string {
	if len(code) <= 6 {
		return "***"
	}
	return code[:6] + "***"
}
