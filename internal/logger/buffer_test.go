package logger

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWrapsAround(t *testing.T) {
	buf := NewBuffer(3, zerolog.DebugLevel)
	for _, msg := range []string{"a", "b", "c", "d"} {
		buf.Add(Entry{Timestamp: time.Now(), Level: "INFO", Message: msg})
	}

	assert.Equal(t, 3, buf.Count())
	recent := buf.Recent(0, "", 0)
	require.Len(t, recent, 3)
	assert.Equal(t, "d", recent[0].Message)
	assert.Equal(t, "b", recent[2].Message)
}

func TestBufferRecentFiltersLevel(t *testing.T) {
	buf := NewBuffer(10, zerolog.DebugLevel)
	buf.Add(Entry{Timestamp: time.Now(), Level: "DEBUG", Message: "noise"})
	buf.Add(Entry{Timestamp: time.Now(), Level: "WARN", Message: "careful"})
	buf.Add(Entry{Timestamp: time.Now(), Level: "ERROR", Message: "broken"})

	recent := buf.Recent(10, "warn", 0)
	require.Len(t, recent, 2)
	assert.Equal(t, "broken", recent[0].Message)
	assert.Equal(t, "careful", recent[1].Message)
}

func TestBufferRecentFiltersAge(t *testing.T) {
	buf := NewBuffer(10, zerolog.DebugLevel)
	buf.Add(Entry{Timestamp: time.Now().Add(-time.Hour), Level: "INFO", Message: "old"})
	buf.Add(Entry{Timestamp: time.Now(), Level: "INFO", Message: "new"})

	recent := buf.Recent(10, "", time.Minute)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].Message)
}

func TestBufferWriterCapturesZerologEvents(t *testing.T) {
	buf := NewBuffer(10, zerolog.InfoLevel)
	log := zerolog.New(zerolog.MultiLevelWriter(NewBufferWriter(buf))).With().Str("component", "transport").Logger()

	log.Debug().Msg("dropped")
	log.Warn().Str("endpoint", "tcp://127.0.0.1:5555").Msg("rebinding")

	recent := buf.Recent(10, "", 0)
	require.Len(t, recent, 1)
	assert.Equal(t, "WARN", recent[0].Level)
	assert.Equal(t, "transport", recent[0].Component)
	assert.Equal(t, "rebinding", recent[0].Message)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}
