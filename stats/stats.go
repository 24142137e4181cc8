// Package stats keeps the named data-quality counters of a trace session and
// mirrors them to Prometheus.
package stats

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Key names one counter.
type Key int

const (
	SorterPushEventOutOfOrder Key = iota
	SorterNegativeTimestampDropped
	SorterEventsDropped
	SchedSwitchOutOfOrder
	SchedWakingOutOfOrder
	MismatchedSchedSwitchTids
	CompactSchedSwitchSkipped
	CompactSchedWakingSkipped
	TaskStateInvalid
	MisplacedEndEvent
	SystraceParseFailure
	JSONParseFailure
	JSONUnsupportedPhase
	FtraceUnknownEvent
	CPUOutOfRange

	numKeys
)

type info struct {
	name string
	help string
}

var infos = [numKeys]info{
	SorterPushEventOutOfOrder:      {"sorter_push_event_out_of_order", "Events older than the last emitted event; discarded."},
	SorterNegativeTimestampDropped: {"trace_sorter_negative_timestamp_dropped", "Events with a negative timestamp; discarded."},
	SorterEventsDropped:            {"sorter_events_dropped", "Events discarded by the sorter's event handling mode."},
	SchedSwitchOutOfOrder:          {"sched_switch_out_of_order", "sched_switch older than the cpu's last scheduling event."},
	SchedWakingOutOfOrder:          {"sched_waking_out_of_order", "sched_waking older than the cpu's last scheduling event."},
	MismatchedSchedSwitchTids:      {"mismatched_sched_switch_tids", "prev_pid did not match the previous next_pid on the cpu."},
	CompactSchedSwitchSkipped:      {"compact_sched_switch_skipped", "First compact sched_switch on a cpu; no prev fields."},
	CompactSchedWakingSkipped:      {"compact_sched_waking_skipped", "Compact sched_waking before any sched_switch on the cpu."},
	TaskStateInvalid:               {"task_state_invalid", "prev_state outside the known task state range."},
	MisplacedEndEvent:              {"misplaced_end_event", "End event without a matching begin."},
	SystraceParseFailure:           {"systrace_parse_failure", "Unparseable systrace line."},
	JSONParseFailure:               {"json_parser_failure", "Unparseable JSON trace event."},
	JSONUnsupportedPhase:           {"json_display_time_unit_unsupported_phase", "JSON trace event with an unsupported phase."},
	FtraceUnknownEvent:             {"ftrace_unknown_event", "ftrace event kept only in the raw table."},
	CPUOutOfRange:                  {"ftrace_cpu_out_of_range", "ftrace cpu above the supported maximum."},
}

// Name returns the counter's stable name.
func (k Key) Name() string { return infos[k].name }

// Stats is a fixed set of counters. Not safe for concurrent writers; the
// Prometheus mirror is.
type Stats struct {
	values [numKeys]int64
	vec    *prometheus.CounterVec
}

// New creates the counters and registers the mirror with reg. A nil reg
// keeps the mirror unregistered.
func New(reg prometheus.Registerer) *Stats {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traceproc_stats_total",
		Help: "Data-quality counters of the trace session, by name.",
	}, []string{"name"})
	if reg != nil {
		reg.MustRegister(vec)
	}
	return &Stats{vec: vec}
}

// Increment adds one to k.
func (s *Stats) Increment(k Key) { s.IncrementBy(k, 1) }

// IncrementBy adds n to k.
func (s *Stats) IncrementBy(k Key, n int64) {
	s.values[k] += n
	s.vec.WithLabelValues(infos[k].name).Add(float64(n))
}

// Get returns the value of k.
func (s *Stats) Get(k Key) int64 { return s.values[k] }

// Vec exposes the Prometheus mirror.
func (s *Stats) Vec() *prometheus.CounterVec { return s.vec }

// Entry is one row of a snapshot.
type Entry struct {
	Name  string
	Help  string
	Value int64
}

// Snapshot returns every counter sorted by name.
func (s *Stats) Snapshot() []Entry {
	out := make([]Entry, 0, numKeys)
	for k := Key(0); k < numKeys; k++ {
		out = append(out, Entry{Name: infos[k].name, Help: infos[k].help, Value: s.values[k]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
