package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func reset() {
	SetVerbose(false)
	SetOutput(os.Stderr)
	SetTimestamps(false)
}

func TestSetVerbose(t *testing.T) {
	defer reset()

	SetVerbose(false)
	assert.False(t, IsVerbose())

	SetVerbose(true)
	assert.True(t, IsVerbose())

	SetVerbose(false)
	assert.False(t, IsVerbose())
}

func TestDebug_WhenVerbose(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Debug("test message %s", "arg")

	assert.Contains(t, buf.String(), "level=debug")
	assert.Contains(t, buf.String(), "msg=test message arg")
}

func TestDebug_WhenNotVerbose(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(false)

	Debug("test message")
	Info("info message")

	assert.Zero(t, buf.Len())
}

func TestWarn_AlwaysPrinted(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(false)

	Warn("abandoned %d items", 3)
	Error("broken")

	out := buf.String()
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "abandoned 3 items")
	assert.Contains(t, out, "level=error")
}

func TestSection(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)

	Section("Hidden")
	assert.Zero(t, buf.Len())

	SetVerbose(true)
	Section("Reconcile")
	assert.Equal(t, "\n=== Reconcile ===\n", buf.String())
}

func TestWith_Fields(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)

	With(Fields{"collection": "notes", "id": "a"}).Warn("orphan removed")

	out := buf.String()
	assert.Contains(t, out, "collection=notes")
	assert.Contains(t, out, "id=a")
	assert.Contains(t, out, "msg=orphan removed")
}
