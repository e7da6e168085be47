package reconcile

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pyama86/firefighter/metrics"
)

func keys(n int, prefix string) []string {
	var ret []string
	for i := 0; i < n; i++ {
		ret = append(ret, fmt.Sprintf("%s%d", prefix, i))
	}
	return ret
}

func TestPlan(t *testing.T) {
	remote := keys(10, "page-")

	tests := []struct {
		name       string
		missing    int
		wantDelete bool
	}{
		{"nothing missing", 0, true},
		{"one missing", 1, true},
		{"at the limit", 4, true},
		{"over the limit", 5, false},
		{"mass vanish", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := append(append([]string(nil), remote...), keys(tt.missing, "gone-")...)
			r := Plan("test", local, remote, 4)
			assert.Len(t, r.Stale, tt.missing)
			assert.Equal(t, tt.wantDelete, r.DeleteAllowed)
		})
	}
}

func TestPlanIsSorted(t *testing.T) {
	r := Plan("test", []string{"c", "a", "b", "z"}, []string{"z"}, 4)
	assert.Equal(t, []string{"a", "b", "c"}, r.Stale)
}

func TestPlanCountsKeptRows(t *testing.T) {
	before := testutil.ToFloat64(metrics.ReconcileStaleRows.WithLabelValues("kept-test", "kept"))
	Plan("kept-test", keys(6, "x"), nil, 4)
	after := testutil.ToFloat64(metrics.ReconcileStaleRows.WithLabelValues("kept-test", "kept"))
	assert.Equal(t, float64(6), after-before)
}
