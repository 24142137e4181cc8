// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go - cold-path diagnostics over go-kit/log
//
// Purpose:
//   - One process-wide logger for paths that have no logger of their own
//     (trackers, tokenizers, the sorter).
//   - Drop* helpers keep call sites to one line.
//
// Notes:
//   - Components with a lifecycle (processor, sqlengine) take a log.Logger
//     explicitly; these helpers are for everything else.
//
// ⚠️ Never invoke in per-event loops without a level check upstream.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type holder struct{ l log.Logger }

var current atomic.Pointer[holder]

func init() {
	l, _ := NewLogger("info", "logfmt", os.Stderr)
	SetLogger(l)
}

// NewLogger builds a leveled logger writing logfmt or json to w.
func NewLogger(levelName, format string, w io.Writer) (log.Logger, error) {
	var l log.Logger
	switch strings.ToLower(format) {
	case "", "logfmt":
		l = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case "json":
		l = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, errors.Newf("debug: unknown log format %q", format)
	}

	var opt level.Option
	switch strings.ToLower(levelName) {
	case "debug":
		opt = level.AllowDebug()
	case "", "info":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil, errors.Newf("debug: unknown log level %q", levelName)
	}
	l = level.NewFilter(l, opt)
	return log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5)), nil
}

// SetLogger replaces the process-wide logger. A nil logger silences output.
func SetLogger(l log.Logger) {
	if l == nil {
		l = log.NewNopLogger()
	}
	current.Store(&holder{l: l})
}

// Logger returns the process-wide logger.
func Logger() log.Logger {
	return current.Load().l
}

// DropError logs err under prefix at error level. A nil err logs the prefix
// alone, which is used for tagged warnings.
func DropError(prefix string, err error) {
	if err != nil {
		_ = level.Error(Logger()).Log("msg", prefix, "err", err)
		return
	}
	_ = level.Warn(Logger()).Log("msg", prefix)
}

// DropMessage logs an informational message.
func DropMessage(prefix, message string) {
	_ = level.Info(Logger()).Log("msg", message, "component", prefix)
}

// DropTrace logs at debug level; used for per-event anomalies that are
// also counted in stats.
func DropTrace(prefix, message string) {
	_ = level.Debug(Logger()).Log("msg", message, "component", prefix)
}
