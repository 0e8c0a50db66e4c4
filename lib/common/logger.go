package common

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// LogOutput is where all loggers write to. The shell prints results on stdout, so logs go to stderr.
var LogOutput io.Writer = os.Stderr

// kvxLogger implements the ILogger interface with custom formatting
type kvxLogger struct {
	name   string
	level  logger.LogLevel
	logger *stdlog.Logger
}

func (l *kvxLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *kvxLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *kvxLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *kvxLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *kvxLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *kvxLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

func (l *kvxLogger) log(levelStr string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-12s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger is the logger.Factory installed by InitLoggers.
func CreateLogger(pkgName string) logger.ILogger {
	return &kvxLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdlog.New(LogOutput, "", stdlog.Ldate|stdlog.Ltime),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel.
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// dragonboatLoggers are the loggers created by dragonboat itself
var dragonboatLoggers = []string{"raft", "raftpb", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb", "config"}

// Loggers are the loggers of the kvx packages
var Loggers = []string{"module", "store", "replog", "lockmgr", "luamod", "acl", "kvx"}

// InitLoggers installs the custom logger factory and sets the level of all known loggers.
// Dragonboat is noisy on info level, its loggers never go below warning unless debug is requested.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	raftLvl := lvl
	if raftLvl > logger.WARNING && raftLvl != logger.DEBUG {
		raftLvl = logger.WARNING
	}
	for _, name := range dragonboatLoggers {
		logger.GetLogger(name).SetLevel(raftLvl)
	}
	for _, name := range Loggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
