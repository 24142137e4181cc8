package debug

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func withLogger(t *testing.T, levelName, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	l, err := NewLogger(levelName, format, &buf)
	require.NoError(t, err)
	SetLogger(l)
	t.Cleanup(func() {
		l, _ := NewLogger("info", "logfmt", os.Stderr)
		SetLogger(l)
	})
	return &buf
}

func TestLevelFilter(t *testing.T) {
	buf := withLogger(t, "warn", "logfmt")

	DropTrace("sorter", "hidden")
	DropMessage("sorter", "also hidden")
	require.Zero(t, buf.Len())

	DropError("sorter", errors.New("boom"))
	require.Contains(t, buf.String(), "level=error")
	require.Contains(t, buf.String(), "err=boom")

	buf.Reset()
	DropError("tagged", nil)
	require.Contains(t, buf.String(), "level=warn")
	require.Contains(t, buf.String(), "msg=tagged")
}

func TestJSONFormat(t *testing.T) {
	buf := withLogger(t, "debug", "json")
	DropTrace("tokenizer", "late event")
	require.Contains(t, buf.String(), `"msg":"late event"`)
	require.Contains(t, buf.String(), `"component":"tokenizer"`)
}

func TestBadOptions(t *testing.T) {
	_, err := NewLogger("loud", "logfmt", &bytes.Buffer{})
	require.Error(t, err)
	_, err = NewLogger("info", "xml", &bytes.Buffer{})
	require.Error(t, err)
}

func TestNilLoggerSilences(t *testing.T) {
	SetLogger(nil)
	t.Cleanup(func() {
		l, _ := NewLogger("info", "logfmt", os.Stderr)
		SetLogger(l)
	})
	require.NotPanics(t, func() { DropMessage("x", "y") })
}
