package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestIncrementMirrorsPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.Increment(SchedSwitchOutOfOrder)
	s.IncrementBy(SchedSwitchOutOfOrder, 2)
	s.Increment(TaskStateInvalid)

	require.Equal(t, int64(3), s.Get(SchedSwitchOutOfOrder))
	require.Equal(t, int64(1), s.Get(TaskStateInvalid))
	require.Equal(t, int64(0), s.Get(MisplacedEndEvent))
	require.Equal(t, 3.0, testutil.ToFloat64(s.Vec().WithLabelValues("sched_switch_out_of_order")))
}

func TestEveryKeyHasName(t *testing.T) {
	names := map[string]bool{}
	for k := Key(0); k < numKeys; k++ {
		require.NotEmpty(t, k.Name(), "key %d", k)
		require.False(t, names[k.Name()], "duplicate name %s", k.Name())
		names[k.Name()] = true
	}
}

func TestSnapshotSorted(t *testing.T) {
	s := New(nil)
	s.Increment(CompactSchedSwitchSkipped)
	snap := s.Snapshot()
	require.Len(t, snap, int(numKeys))
	for i := 1; i < len(snap); i++ {
		require.Less(t, snap[i-1].Name, snap[i].Name)
	}
	for _, e := range snap {
		if e.Name == "compact_sched_switch_skipped" {
			require.Equal(t, int64(1), e.Value)
		}
	}
}
