// Package env loads dotenv files and resolves command settings from flags
// and the process environment.
package env

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HongKai-hskd/vibeMusic/logger"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses a dotenv file. A missing file yields no lines and no error.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []EnvLine{}, nil
		}
		return nil, err
	}
	return ParseEnvBuffer(buf)
}

// ParseEnvBuffer parses dotenv content. Values may reference earlier or
// later keys with ${KEY}, supply a fallback with ${KEY:-fallback}, or read
// the process environment with ${env:KEY}. Unresolved references are kept
// verbatim.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(strings.TrimPrefix(line, "export "))
		if env.Key == "" {
			continue
		}
		env.Val = interpolate(env.Val, vars)
		vars[env.Key] = env.Val
		envs = append(envs, env)
	}
	// forward references resolve once every key is known
	for i := range envs {
		envs[i].Val = interpolate(envs[i].Val, vars)
	}
	return envs, nil
}

// ProcessEnvLine splits KEY=value and strips one level of matching quotes.
func ProcessEnvLine(line string) EnvLine {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func interpolate(input string, vars map[string]string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var out strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end += start
		out.WriteString(rest[:start])
		out.WriteString(resolve(rest[start:end+1], vars))
		rest = rest[end+1:]
	}
}

// resolve expands one ${...} reference or returns it unchanged.
func resolve(ref string, vars map[string]string) string {
	name, fallback, _ := strings.Cut(ref[2:len(ref)-1], ":-")
	if name == "" {
		return ref
	}
	var val string
	if osName, ok := strings.CutPrefix(name, "env:"); ok {
		val = os.Getenv(osName)
	} else {
		val = vars[name]
	}
	switch {
	case val != "":
		return val
	case fallback != "":
		return fallback
	default:
		return ref
	}
}

// ToMap returns the lines as a map. Later keys win.
func ToMap(envs []EnvLine) map[string]string {
	m := make(map[string]string, len(envs))
	for _, e := range envs {
		m[e.Key] = e.Val
	}
	return m
}

// Apply exports the lines into the process environment. Variables that are
// already set are left alone unless overwrite is true.
func Apply(envs []EnvLine, overwrite bool) error {
	for _, e := range envs {
		if _, exists := os.LookupEnv(e.Key); exists && !overwrite {
			continue
		}
		if err := os.Setenv(e.Key, e.Val); err != nil {
			return err
		}
	}
	return nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogDefaults are the logging settings used when neither a flag nor an
// environment variable is set.
type LogDefaults struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// LogLevel resolves --log-level, then VIBEMUSIC_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logLevel(cmd, "info")
}

func logLevel(cmd *cobra.Command, def string) logger.LogLevel {
	level, err := logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, def))
	if err != nil {
		return logger.LevelInfo
	}
	return level
}

// NewLogger returns a logger configured from the command's flags:
//
// --log-level (string): minimum console level
//
// --log-format (string): "console" (default) or "json"
//
// --log-file (string): also write to a size-rotated file
//
// The returned function closes the log file, if any.
func NewLogger(cmd *cobra.Command) (logger.Logger, func() error) {
	return NewLoggerWithDefaults(cmd, LogDefaults{Level: "info", Format: "console", MaxBackups: 3, MaxAgeDays: 7})
}

// NewLoggerWithDefaults is NewLogger with fallbacks taken from def, usually
// the log section of a config file.
func NewLoggerWithDefaults(cmd *cobra.Command, def LogDefaults) (logger.Logger, func() error) {
	log.SetFlags(0)
	level := logLevel(cmd, def.Level)
	var l logger.SinkLogger
	if FlagOrEnv(cmd, "log-format", "VIBEMUSIC_LOG_FORMAT", def.Format) == "json" {
		l = logger.NewJSONLogger(level)
	} else {
		l = logger.NewConsoleLogger(level)
	}
	closer := func() error { return nil }
	if path := FlagOrEnv(cmd, "log-file", "VIBEMUSIC_LOG_FILE", def.File); path != "" {
		sink := logger.NewFileSink(logger.FileSinkConfig{
			Path:       path,
			MaxSizeMB:  def.MaxSizeMB,
			MaxBackups: def.MaxBackups,
			MaxAgeDays: def.MaxAgeDays,
			Compress:   true,
		})
		l.SetSink(sink, level)
		closer = sink.Close
	}
	return l, closer
}
