package logger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerToFile(t *testing.T) {
	tempFile, err := os.CreateTemp(os.TempDir(), "onvifd-logger-")
	require.NoError(t, err)
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	l, err := New(Debug, []Destination{DestinationFile}, tempFile.Name(), false)
	require.NoError(t, err)
	defer l.Close()

	l.Log(Info, "test format %d", 123)

	buf, err := os.ReadFile(tempFile.Name())
	require.NoError(t, err)
	require.Contains(t, string(buf), "INF test format 123\n")
}

func TestLoggerLevelFilter(t *testing.T) {
	tempFile, err := os.CreateTemp(os.TempDir(), "onvifd-logger-")
	require.NoError(t, err)
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	l, err := New(Warn, []Destination{DestinationFile}, tempFile.Name(), false)
	require.NoError(t, err)
	defer l.Close()

	l.Log(Debug, "should not appear")
	l.Log(Error, "should appear")

	buf, err := os.ReadFile(tempFile.Name())
	require.NoError(t, err)
	require.NotContains(t, string(buf), "should not appear")
	require.Contains(t, string(buf), "should appear")
}

func TestTaggedWriter(t *testing.T) {
	tempFile, err := os.CreateTemp(os.TempDir(), "onvifd-logger-")
	require.NoError(t, err)
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	l, err := New(Debug, []Destination{DestinationFile}, tempFile.Name(), false)
	require.NoError(t, err)
	defer l.Close()

	w := l.Tagged("device", "GetDeviceInformation")
	w.Log(Info, "handled")

	buf, err := os.ReadFile(tempFile.Name())
	require.NoError(t, err)
	require.Contains(t, string(buf), "[device::GetDeviceInformation] handled\n")
}

func TestStructuredLoggingWritesJSON(t *testing.T) {
	tempFile, err := os.CreateTemp(os.TempDir(), "onvifd-logger-")
	require.NoError(t, err)
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	l, err := New(Debug, []Destination{DestinationFile}, tempFile.Name(), true)
	require.NoError(t, err)
	defer l.Close()

	l.Log(Info, "test format %d", 123)

	buf, err := os.ReadFile(tempFile.Name())
	require.NoError(t, err)
	require.Contains(t, string(buf), `"message":"test format 123"`)
}
