package reconcile

import (
	"log/slog"
	"sort"

	"github.com/pyama86/firefighter/metrics"
)

// Result はローカルにだけ残っている行と、それを消してよいかを表す
type Result struct {
	Stale         []string
	DeleteAllowed bool
}

// Plan はlocalのうちremoteに存在しないキーを求める
// staleの件数がmaxDeletesを超えたら取得側の不具合を疑い、削除を許可しない
func Plan(source string, local, remote []string, maxDeletes int) Result {
	seen := make(map[string]bool, len(remote))
	for _, k := range remote {
		seen[k] = true
	}

	var stale []string
	for _, k := range local {
		if !seen[k] {
			stale = append(stale, k)
		}
	}
	sort.Strings(stale)

	r := Result{Stale: stale, DeleteAllowed: len(stale) <= maxDeletes}
	if len(stale) == 0 {
		return r
	}
	if r.DeleteAllowed {
		metrics.ReconcileStaleRows.WithLabelValues(source, "deleted").Add(float64(len(stale)))
	} else {
		metrics.ReconcileStaleRows.WithLabelValues(source, "kept").Add(float64(len(stale)))
		slog.Warn("too many stale rows, skip deletion",
			slog.String("source", source),
			slog.Int("stale", len(stale)),
			slog.Int("max", maxDeletes),
		)
	}
	return r
}
