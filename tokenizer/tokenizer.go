// Package tokenizer splits raw trace bytes into timestamped events and
// pushes them into the sorter. Tokenizers only read what ordering needs
// (timestamp, channel); full decoding happens after sorting, in the parser.
package tokenizer

import (
	"bytes"

	"traceproc/event"
)

// Pusher receives tokenized events. *sorter.Sorter implements it.
type Pusher interface {
	Push(channel uint32, ts int64, p event.Payload)
	FinalizeFtraceEventBatch(channel uint32)
}

// Tokenizer consumes a trace as a sequence of chunks.
type Tokenizer interface {
	// Feed tokenizes chunk. Events may span chunk boundaries.
	Feed(chunk []byte) error
	// Flush tokenizes whatever is buffered at end of stream.
	Flush() error
}

// Format is the detected trace format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatSystrace
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatSystrace:
		return "systrace"
	case FormatJSON:
		return "json"
	}
	return "unknown"
}

// Detect guesses the format from the first bytes of a trace: JSON starts
// with '{' or '[', ftrace text with a task name or a '#' comment header.
func Detect(head []byte) Format {
	head = bytes.TrimLeft(head, " \t\r\n\ufeff")
	if len(head) == 0 {
		return FormatUnknown
	}
	switch head[0] {
	case '{', '[':
		return FormatJSON
	case '#':
		return FormatSystrace
	}
	if bytes.HasPrefix(head, []byte("TRACE:")) {
		return FormatSystrace
	}
	line := head
	if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	if bytes.Contains(line, []byte("] ")) && bytes.Contains(line, []byte(": ")) {
		return FormatSystrace
	}
	return FormatUnknown
}
