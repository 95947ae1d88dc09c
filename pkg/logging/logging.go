// pkg/logging/logging.go - timestamped logging package for cmrotate
//
// This package provides structured logging with timestamped session
// directories compatible with external monitoring and reporting tools:
// - Timestamped subdirectories (YYYY-MM-DD-HHMMss format)
// - Automatic cleanup of old session directories
// - Structured output formats (JSON lines, YAML) alongside the plain log

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/windowsadmins/cmrotate/pkg/config"
	"golang.org/x/sys/windows"
	"gopkg.in/yaml.v3"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	// Define log levels.
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string into a LogLevel.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LogEntry represents a structured log entry compatible with external monitoring tools
type LogEntry struct {
	Time       int64                  `json:"time" yaml:"time"`
	Timestamp  string                 `json:"timestamp" yaml:"timestamp"`
	Level      string                 `json:"level" yaml:"level"`
	Message    string                 `json:"message" yaml:"message"`
	Component  string                 `json:"component" yaml:"component"`
	PID        int64                  `json:"pid" yaml:"pid"`
	Hostname   string                 `json:"hostname" yaml:"hostname"`
	SessionID  string                 `json:"session_id" yaml:"session_id"`
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// RetentionPolicy defines session log retention rules
type RetentionPolicy struct {
	KeepRuns   int // Keep last N session directories
	MaxAgeDays int // Maximum age in days before deletion
}

// LoggerConfig holds configuration for the session logger
type LoggerConfig struct {
	BaseDir       string          // Base logging directory
	SessionID     string          // Unique session identifier
	Component     string          // Component/module name
	Retention     RetentionPolicy // Retention policy
	EnableJSON    bool            // Enable JSON lines output
	EnableYAML    bool            // Enable YAML output
	EnableConsole bool            // Enable console output
}

// Logger encapsulates logging with timestamped session directories.
type Logger struct {
	mu           sync.RWMutex
	logger       *log.Logger
	logLevel     LogLevel
	logFile      *os.File
	jsonFile     *os.File
	yamlFile     *os.File
	config       LoggerConfig
	sessionStart time.Time
	logDir       string // Current timestamped log directory
	hostname     string
}

// singleton instance and sync.Once for thread-safe initialization
var (
	instance *Logger
	once     sync.Once
)

// DefaultRetentionPolicy returns sensible defaults for log retention
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		KeepRuns:   30, // Keep last 30 runs
		MaxAgeDays: 90, // Delete logs older than 90 days
	}
}

// Init initializes the singleton Logger based on the provided configuration.
// It must be called before any package-level logging functions are used.
func Init(cfg *config.Configuration) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLogger(cfg)
	})
	return initErr
}

// generateSessionID creates a unique session identifier
func generateSessionID() string {
	return fmt.Sprintf("cmrotate-%d-%s", time.Now().Unix(),
		time.Now().Format("2006-01-02-150405"))
}

// createTimestampedLogDir creates a timestamped log directory
func createTimestampedLogDir(baseDir string, sessionStart time.Time) (string, error) {
	// Format: YYYY-MM-DD-HHMMss
	timestamp := sessionStart.Format("2006-01-02-150405")
	logDir := filepath.Join(baseDir, timestamp)

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create timestamped log directory %s: %w", logDir, err)
	}

	return logDir, nil
}

// newLogger creates a new Logger instance based on the configuration.
func newLogger(cfg *config.Configuration) (*Logger, error) {
	logCfg := LoggerConfig{
		BaseDir:       filepath.Join(`C:\ProgramData\CMRotate`, `logs`),
		SessionID:     generateSessionID(),
		Component:     "cmrotate",
		Retention:     DefaultRetentionPolicy(),
		EnableJSON:    true,
		EnableYAML:    true,
		EnableConsole: cfg.Verbose || cfg.Debug,
	}

	return newLoggerWithConfig(logCfg, ParseLevel(cfg.LogLevel))
}

// newLoggerWithConfig creates a new Logger instance with explicit configuration.
func newLoggerWithConfig(cfg LoggerConfig, level LogLevel) (*Logger, error) {
	sessionStart := time.Now()

	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base log directory: %w", err)
	}

	logDir, err := createTimestampedLogDir(cfg.BaseDir, sessionStart)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	logger := &Logger{
		config:       cfg,
		sessionStart: sessionStart,
		logDir:       logDir,
		hostname:     hostname,
		logLevel:     level,
	}

	if err := logger.initializeLogFiles(); err != nil {
		return nil, err
	}

	if cfg.EnableConsole {
		multiWriter := io.MultiWriter(os.Stdout, logger.logFile)
		logger.logger = log.New(multiWriter, "", 0)
	} else {
		logger.logger = log.New(logger.logFile, "", 0)
	}

	// One-shot cleanup; a short-lived CLI has no use for a ticker.
	go logger.performCleanup()

	return logger, nil
}

// initializeLogFiles creates and opens all log files
func (l *Logger) initializeLogFiles() error {
	var err error

	logFilePath := filepath.Join(l.logDir, "cmrotate.log")
	l.logFile, err = os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open main log file: %w", err)
	}

	if l.config.EnableJSON {
		jsonPath := filepath.Join(l.logDir, "events.jsonl")
		l.jsonFile, err = os.OpenFile(jsonPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open JSON log file: %w", err)
		}
	}

	if l.config.EnableYAML {
		yamlPath := filepath.Join(l.logDir, "cmrotate.yaml")
		l.yamlFile, err = os.OpenFile(yamlPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open YAML log file: %w", err)
		}
	}

	return nil
}

// performCleanup removes old session directories based on the retention policy
func (l *Logger) performCleanup() {
	baseDir := l.config.BaseDir
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return // Silently fail cleanup
	}

	var logDirs []os.DirEntry
	now := time.Now()

	// Filter for log directories (timestamped format YYYY-MM-DD-HHMMss)
	for _, entry := range entries {
		if entry.IsDir() {
			if len(entry.Name()) == 17 && strings.Count(entry.Name(), "-") == 3 {
				logDirs = append(logDirs, entry)
			}
		}
	}

	// Sort directories by name (which sorts by timestamp due to format)
	sort.Slice(logDirs, func(i, j int) bool {
		return logDirs[i].Name() > logDirs[j].Name() // Newest first
	})

	retention := l.config.Retention
	toDelete := []string{}

	if len(logDirs) > retention.KeepRuns {
		for i := retention.KeepRuns; i < len(logDirs); i++ {
			toDelete = append(toDelete, logDirs[i].Name())
		}
	}

	maxAge := time.Duration(retention.MaxAgeDays) * 24 * time.Hour
	for _, dir := range logDirs {
		dirPath := filepath.Join(baseDir, dir.Name())
		if info, err := os.Stat(dirPath); err == nil {
			if now.Sub(info.ModTime()) > maxAge {
				toDelete = append(toDelete, dir.Name())
			}
		}
	}

	deletedDirs := make(map[string]bool)
	for _, dirName := range toDelete {
		if !deletedDirs[dirName] {
			dirPath := filepath.Join(baseDir, dirName)
			os.RemoveAll(dirPath) // Best effort, ignore errors
			deletedDirs[dirName] = true
		}
	}
}

// createLogEntry creates a structured log entry
func (l *Logger) createLogEntry(level LogLevel, message string, properties map[string]interface{}) LogEntry {
	now := time.Now()

	return LogEntry{
		Time:       now.Unix(),
		Timestamp:  now.Format(time.RFC3339),
		Level:      level.String(),
		Message:    message,
		Component:  l.config.Component,
		PID:        int64(os.Getpid()),
		Hostname:   l.hostname,
		SessionID:  l.config.SessionID,
		Properties: properties,
	}
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	if instance == nil {
		return
	}
	instance.mu.Lock()
	defer instance.mu.Unlock()

	if instance.logFile != nil {
		if err := instance.logFile.Close(); err != nil {
			fmt.Printf("Failed to close main log file: %v\n", err)
		}
		instance.logFile = nil
	}

	if instance.jsonFile != nil {
		if err := instance.jsonFile.Close(); err != nil {
			fmt.Printf("Failed to close JSON log file: %v\n", err)
		}
		instance.jsonFile = nil
	}

	if instance.yamlFile != nil {
		if err := instance.yamlFile.Close(); err != nil {
			fmt.Printf("Failed to close YAML log file: %v\n", err)
		}
		instance.yamlFile = nil
	}
}

// logMessage is the core logging method that writes to all configured outputs
func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logger == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: %s %s %v\n", level.String(), message, keyValues)
		return
	}

	if level > l.logLevel {
		return
	}

	// Convert keyValues to properties map
	properties := make(map[string]interface{})
	for i := 0; i < len(keyValues); i += 2 {
		if i+1 < len(keyValues) {
			key := fmt.Sprintf("%v", keyValues[i])
			properties[key] = keyValues[i+1]
		}
	}

	entry := l.createLogEntry(level, message, properties)

	l.writeMainLog(entry, keyValues)

	if l.config.EnableJSON && l.jsonFile != nil {
		l.writeJSONLog(entry)
	}

	if l.config.EnableYAML && l.yamlFile != nil {
		l.writeYAMLLog(entry)
	}

	l.syncFiles()
}

// writeMainLog writes to the main cmrotate.log file in traditional format
func (l *Logger) writeMainLog(entry LogEntry, keyValues []interface{}) {
	ts := time.Unix(entry.Time, 0).Format("2006-01-02 15:04:05")
	baseLine := fmt.Sprintf("[%s] %-5s %s", ts, entry.Level, entry.Message)

	for i := 0; i < len(keyValues); i += 2 {
		if i+1 < len(keyValues) {
			key := fmt.Sprintf("%v", keyValues[i])
			val := keyValues[i+1]
			baseLine += fmt.Sprintf(" %s=%v", key, val)
		}
	}

	// Add error separator
	if entry.Level == "ERROR" {
		baseLine = "\n----------------------------------------\n" + baseLine
	}

	l.logger.Println(baseLine)
}

// writeJSONLog writes a structured JSON log entry
func (l *Logger) writeJSONLog(entry LogEntry) {
	if data, err := json.Marshal(entry); err == nil {
		l.jsonFile.WriteString(string(data) + "\n")
	}
}

// writeYAMLLog writes a structured YAML log entry
func (l *Logger) writeYAMLLog(entry LogEntry) {
	if data, err := yaml.Marshal(entry); err == nil {
		l.yamlFile.WriteString("---\n" + string(data))
	}
}

// syncFiles forces sync on all open log files
func (l *Logger) syncFiles() {
	if l.logFile != nil {
		l.logFile.Sync()
	}
	if l.jsonFile != nil {
		l.jsonFile.Sync()
	}
	if l.yamlFile != nil {
		l.yamlFile.Sync()
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGreen  = "\033[32m"
)

// enableColors enables ANSI colors for Windows console
func enableColors() {
	handle := windows.Handle(windows.STD_OUTPUT_HANDLE)
	var mode uint32
	err := windows.GetConsoleMode(handle, &mode)
	if err == nil {
		// Enable virtual terminal processing (0x0004)
		mode |= 0x0004
		_ = windows.SetConsoleMode(handle, mode)
	}
}

// Info logs informational messages.
func Info(message string, keyValues ...interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: INFO %s %v\n", message, keyValues)
		return
	}
	instance.logMessage(LevelInfo, message, keyValues...)
}

// Debug logs debug messages.
func Debug(message string, keyValues ...interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: DEBUG %s %v\n", message, keyValues)
		return
	}
	instance.logMessage(LevelDebug, message, keyValues...)
}

// Warn logs warning messages.
func Warn(message string, keyValues ...interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: WARN %s %v\n", message, keyValues)
		return
	}
	instance.logMessage(LevelWarn, message, keyValues...)
}

// Error logs error messages.
func Error(message string, keyValues ...interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: ERROR %s %v\n", message, keyValues)
		return
	}
	instance.logMessage(LevelError, message, keyValues...)
}

// LogStructured logs a message with an explicit properties map.
func LogStructured(level LogLevel, message string, properties map[string]interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: %s %s %v\n", level.String(), message, properties)
		return
	}

	// Convert properties to keyValues slice
	keyValues := make([]interface{}, 0, len(properties)*2)
	for k, v := range properties {
		keyValues = append(keyValues, k, v)
	}

	instance.logMessage(level, message, keyValues...)
}

// GetCurrentLogDir returns the session's log directory, if initialized.
func GetCurrentLogDir() string {
	if instance == nil {
		return ""
	}
	return instance.logDir
}

// New creates a console-only Logger instance.
func New(verbose bool) *Logger {
	enableColors()

	output := os.Stdout
	if !verbose {
		output = os.Stderr
	}
	l := log.New(output, "", 0)
	return &Logger{
		logger:   l,
		logLevel: LevelInfo, // default log level
		logFile:  nil,       // no file logging for this instance
	}
}

// SetOutput changes the output destination.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.SetOutput(w)
}

// colorPrintf prints a colored message.
func (l *Logger) colorPrintf(color, format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ts := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	l.logger.Printf("%s[%s] %s%s", color, ts, msg, colorReset)
}

// Printf prints a regular message.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	l.logger.Printf("[%s] %s", ts, msg)
}

// Info prints an informational message (instance method counterpart to the package-level Info).
func (l *Logger) Info(format string, v ...interface{}) {
	l.Printf(format, v...)
}

// Success prints a success message in green.
func (l *Logger) Success(format string, v ...interface{}) {
	l.colorPrintf(colorGreen, format, v...)
}

// Error prints an error message in red.
func (l *Logger) Error(format string, v ...interface{}) {
	l.colorPrintf(colorRed, format, v...)
}

// Warning prints a warning message in yellow.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.colorPrintf(colorYellow, format, v...)
}

// Debug prints a debug message in blue.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.colorPrintf(colorBlue, format, v...)
}

// Fatal prints an error message in red and exits.
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.Error(format, v...)
	os.Exit(1)
}
