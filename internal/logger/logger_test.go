package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bjaus/docsync/internal/logger"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Out: &buf})

	log.Debug().Msg("hidden")
	log.Info().Str("kind", "order").Msg("loaded")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "loaded", entry["message"])
	require.Equal(t, "order", entry["kind"])
	require.Contains(t, entry, "time")
	require.Contains(t, entry, "caller")
}

func TestNew_DebugConsole(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Debug: true, Out: &buf})

	log.Debug().Msg("page fetched")
	require.Contains(t, buf.String(), "| page fetched |")
}
