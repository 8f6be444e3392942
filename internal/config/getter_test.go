package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvGetters(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("string falls back to default when unset", func(t *testing.T) {
		t.Setenv("SDBRIDGE_TEST_STR", "")
		assert.Equal(t, "fallback", GetEnvStr("SDBRIDGE_TEST_STR", "fallback"))

		t.Setenv("SDBRIDGE_TEST_STR", "value")
		assert.Equal(t, "value", GetEnvStr("SDBRIDGE_TEST_STR", "fallback"))
	})

	t.Run("int ignores invalid values", func(t *testing.T) {
		t.Setenv("SDBRIDGE_TEST_INT", "not-a-number")
		assert.Equal(t, 7, GetEnvInt("SDBRIDGE_TEST_INT", 7))

		t.Setenv("SDBRIDGE_TEST_INT", " 42 ")
		assert.Equal(t, 42, GetEnvInt("SDBRIDGE_TEST_INT", 7))
	})

	t.Run("bool accepts common spellings", func(t *testing.T) {
		for _, v := range []string{"true", "1", "yes", " TRUE "} {
			t.Setenv("SDBRIDGE_TEST_BOOL", v)
			assert.True(t, GetEnvBool("SDBRIDGE_TEST_BOOL", false), v)
		}

		for _, v := range []string{"false", "0", "no"} {
			t.Setenv("SDBRIDGE_TEST_BOOL", v)
			assert.False(t, GetEnvBool("SDBRIDGE_TEST_BOOL", true), v)
		}

		t.Setenv("SDBRIDGE_TEST_BOOL", "maybe")
		assert.True(t, GetEnvBool("SDBRIDGE_TEST_BOOL", true))
	})

	t.Run("float parses decimals", func(t *testing.T) {
		t.Setenv("SDBRIDGE_TEST_FLOAT", "12.5")
		assert.InDelta(t, 12.5, GetEnvFloat("SDBRIDGE_TEST_FLOAT", 1), 1e-12)

		t.Setenv("SDBRIDGE_TEST_FLOAT", "abc")
		assert.InDelta(t, 1.0, GetEnvFloat("SDBRIDGE_TEST_FLOAT", 1), 1e-12)
	})

	t.Run("duration parses go durations", func(t *testing.T) {
		t.Setenv("SDBRIDGE_TEST_DURATION", "90s")
		assert.Equal(t, 90*time.Second, GetEnvDuration("SDBRIDGE_TEST_DURATION", time.Minute))
	})

	t.Run("log level", func(t *testing.T) {
		for value, want := range map[string]slog.Level{
			"debug":   slog.LevelDebug,
			"INFO":    slog.LevelInfo,
			"warning": slog.LevelWarn,
			"warn":    slog.LevelWarn,
			"error":   slog.LevelError,
			"verbose": slog.LevelInfo,
		} {
			t.Setenv("SDBRIDGE_TEST_LEVEL", value)
			assert.Equal(t, want, GetEnvLogLevel("SDBRIDGE_TEST_LEVEL", slog.LevelInfo), value)
		}
	})
}

func TestGetEnvList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("SDBRIDGE_TEST_LIST", "")
	assert.Equal(t, []string{"GET", "POST"}, GetEnvList("SDBRIDGE_TEST_LIST", "GET,POST"))

	t.Setenv("SDBRIDGE_TEST_LIST", " soccpro, al1,,al2 ")
	assert.Equal(t, []string{"soccpro", "al1", "al2"}, GetEnvList("SDBRIDGE_TEST_LIST", "GET"))

	assert.Equal(t, []string{}, GetEnvList("SDBRIDGE_TEST_LIST_UNSET", ""))
}
