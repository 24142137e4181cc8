// Package processor wires a trace session together: reader, tokenizer,
// sorter, parser, storage and the SQL engine.
package processor

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"traceproc/config"
	"traceproc/control"
	"traceproc/parser"
	"traceproc/ring"
	"traceproc/sorter"
	"traceproc/sqlengine"
	"traceproc/stats"
	"traceproc/storage"
	"traceproc/tokenizer"
)

var (
	// ErrUnknownFormat is returned when the trace head matches no tokenizer.
	ErrUnknownFormat = errors.New("processor: unrecognised trace format")
	// ErrStopped is returned when a shutdown was requested mid-read.
	ErrStopped = errors.New("processor: stopped")
	// ErrFinished is returned when data arrives after NotifyEndOfFile.
	ErrFinished = errors.New("processor: session already finished")
)

// detectLimit bounds how much of the head is buffered while the format is
// still ambiguous.
const detectLimit = 64 << 10

// Session processes one trace.
type Session struct {
	id     uuid.UUID
	cfg    *config.Config
	logger log.Logger

	stats  *stats.Stats
	store  *storage.Storage
	parser *parser.Parser
	sorter *sorter.Sorter

	format tokenizer.Format
	tok    tokenizer.Tokenizer
	head   []byte

	engine   *sqlengine.Engine
	bytes    int64
	chunks   int
	started  time.Time
	finished bool
}

// New creates a session. A nil cfg uses config.Default(); reg may be nil.
func New(cfg *config.Config, logger log.Logger, reg prometheus.Registerer) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	id := uuid.New()
	s := &Session{
		id:      id,
		cfg:     cfg,
		logger:  log.With(logger, "session", id.String()),
		stats:   stats.New(reg),
		store:   storage.New(),
		started: time.Now(),
	}
	s.parser = parser.New(s.store, s.stats)
	s.sorter = sorter.New(s.parser, s.stats, cfg.SorterOptions()...)

	switch cfg.Ingest.Format {
	case "systrace":
		s.setFormat(tokenizer.FormatSystrace)
	case "json":
		s.setFormat(tokenizer.FormatJSON)
	}
	return s, nil
}

func (s *Session) ID() uuid.UUID             { return s.id }
func (s *Session) Stats() *stats.Stats       { return s.stats }
func (s *Session) Storage() *storage.Storage { return s.store }
func (s *Session) Format() tokenizer.Format  { return s.format }
func (s *Session) Sorter() *sorter.Sorter    { return s.sorter }

// Engine returns the SQL engine, available after NotifyEndOfFile.
func (s *Session) Engine() *sqlengine.Engine { return s.engine }

// ════════════════════════════════ Ingest ════════════════════════════════════

// Parse streams r through the session. It may be called repeatedly for a
// trace split over several readers; NotifyEndOfFile ends the trace.
func (s *Session) Parse(ctx context.Context, r io.Reader) error {
	if s.finished {
		return ErrFinished
	}
	chunks := ring.New[[]byte](s.cfg.Ingest.RingSize)
	g, gctx := errgroup.WithContext(ctx)

	// Reader: owns r, hands fresh buffers to the consumer.
	g.Go(func() error {
		defer chunks.Close()
		for {
			if control.Stopping() {
				return ErrStopped
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			buf := make([]byte, s.cfg.Ingest.ChunkSize)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				if perr := chunks.PushWait(gctx, buf[:n]); perr != nil {
					return perr
				}
			}
			switch {
			case err == nil:
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return nil
			default:
				return errors.Wrap(err, "processor: read")
			}
		}
	})

	// Consumer: tokenizes and extracts on this session's state only.
	g.Go(func() error {
		return chunks.Drain(gctx, s.Feed)
	})

	return g.Wait()
}

// Feed tokenizes one chunk and extracts whatever the window allows.
func (s *Session) Feed(chunk []byte) error {
	if s.finished {
		return ErrFinished
	}
	s.bytes += int64(len(chunk))
	s.chunks++

	if s.tok == nil {
		s.head = append(s.head, chunk...)
		f := tokenizer.Detect(s.head)
		if f == tokenizer.FormatUnknown {
			if len(bytes.TrimSpace(s.head)) == 0 ||
				(len(s.head) < detectLimit && bytes.IndexByte(s.head, '\n') < 0) {
				return nil
			}
			return ErrUnknownFormat
		}
		s.setFormat(f)
		chunk, s.head = s.head, nil
	}

	if err := s.tok.Feed(chunk); err != nil {
		return errors.Wrapf(err, "processor: tokenize %s", s.format)
	}
	s.sorter.ExtractEventsForFlush()
	return nil
}

func (s *Session) setFormat(f tokenizer.Format) {
	s.format = f
	switch f {
	case tokenizer.FormatJSON:
		// JSON events carry no per-producer ordering guarantee.
		if !s.sorter.SetSortingMode(sorter.SortingFullSort) {
			_ = level.Warn(s.logger).Log("msg", "cannot switch to full sort", "format", f)
		}
		s.tok = tokenizer.NewJSON(s.sorter, s.stats)
	default:
		s.tok = tokenizer.NewSystrace(s.sorter, s.store.Pool, s.stats, s.cfg.Ingest.Compact)
	}
	_ = level.Debug(s.logger).Log("msg", "format detected", "format", f)
}

// NotifyFlush forwards a producer flush marker to the sorter.
func (s *Session) NotifyFlush() { s.sorter.NotifyFlushEvent() }

// NotifyReadBuffer forwards a read-buffer marker to the sorter.
func (s *Session) NotifyReadBuffer() { s.sorter.NotifyReadBufferEvent() }

// NotifyEndOfFile drains everything, closes open state and opens the SQL
// engine over the finished tables.
func (s *Session) NotifyEndOfFile(ctx context.Context) error {
	if s.finished {
		return nil
	}
	if s.tok == nil && len(bytes.TrimSpace(s.head)) > 0 {
		return ErrUnknownFormat
	}
	if s.tok != nil {
		if err := s.tok.Flush(); err != nil {
			return errors.Wrapf(err, "processor: flush %s", s.format)
		}
	}
	s.sorter.ExtractEventsForced()
	s.parser.NotifyEndOfFile()
	s.finished = true

	eng, err := sqlengine.Open(ctx, s.store.Registry, s.logger)
	if err != nil {
		return err
	}
	s.engine = eng

	start, end, _ := s.store.Bounds()
	_ = level.Info(s.logger).Log(
		"msg", "trace loaded",
		"format", s.format,
		"bytes", s.bytes,
		"chunks", s.chunks,
		"events", s.parser.Seen(),
		"start_ts", start,
		"end_ts", end,
		"elapsed", time.Since(s.started),
	)
	for _, e := range s.stats.Snapshot() {
		if e.Value != 0 {
			_ = level.Debug(s.logger).Log("msg", "stat", "name", e.Name, "value", e.Value)
		}
	}
	return nil
}

// LoadFile parses the file at path and ends the trace.
func (s *Session) LoadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "processor: open trace")
	}
	defer f.Close()
	if err := s.Parse(ctx, f); err != nil {
		return err
	}
	return s.NotifyEndOfFile(ctx)
}

// Close releases the sorter and the engine.
func (s *Session) Close() error {
	s.sorter.Close()
	if s.engine != nil {
		return s.engine.Close()
	}
	return nil
}
