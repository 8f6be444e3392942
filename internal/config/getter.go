// Package config reads sdbridge settings from the environment. Every getter falls back
// to its default when the variable is unset or does not parse.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup parses the trimmed value of key, returning def when it is unset or invalid.
func lookup[T any](key string, def T, parse func(string) (T, error)) T {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}

	v, err := parse(value)
	if err != nil {
		return def
	}

	return v
}

// GetEnvStr returns the value of key, e.g. GetEnvStr("SDBRIDGE_DEFINITION_PATH", ".sdbridge.yaml").
func GetEnvStr(key, def string) string {
	return lookup(key, def, func(s string) (string, error) { return s, nil })
}

// GetEnvInt returns key parsed as a base 10 int.
func GetEnvInt(key string, def int) int {
	return lookup(key, def, strconv.Atoi)
}

// GetEnvFloat returns key parsed as a float64.
func GetEnvFloat(key string, def float64) float64 {
	return lookup(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// GetEnvBool accepts true/1/yes and false/0/no in any case.
func GetEnvBool(key string, def bool) bool {
	return lookup(key, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}

		return false, strconv.ErrSyntax
	})
}

// GetEnvDuration returns key parsed by time.ParseDuration.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	return lookup(key, def, time.ParseDuration)
}

// GetEnvLogLevel maps debug, info, warn or warning, and error to slog levels.
func GetEnvLogLevel(key string, def slog.Level) slog.Level {
	return lookup(key, def, func(s string) (slog.Level, error) {
		var level slog.Level

		if strings.EqualFold(s, "warning") {
			s = "warn"
		}

		err := level.UnmarshalText([]byte(s))

		return level, err
	})
}

// GetEnvList splits key on commas, dropping blank items. def is split the same way.
func GetEnvList(key, def string) []string {
	parts := strings.Split(GetEnvStr(key, def), ",")
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
