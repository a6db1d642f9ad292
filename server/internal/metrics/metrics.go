package metrics

import (
	"bytes"
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/expirystore/expirystore/pkg/expiring"
	"github.com/expirystore/expirystore/server/internal/registry"
)

// Metric names exposed on /metrics.
const (
	EntriesName   = "expirystore_entries"
	PendingName   = "expirystore_pending_evictions"
	AddedName     = "expirystore_added_total"
	ReplacedName  = "expirystore_replaced_total"
	RemovedName   = "expirystore_removed_total"
	ExpiredName   = "expirystore_expired_total"
	ExhaustedName = "expirystore_exhausted_total"
)

// Collect builds one metric family per exposed metric, with one series per
// store labelled store="<name>".
func Collect(stats []expiring.Stats) []*dto.MetricFamily {
	type def struct {
		name, help string
		typ        dto.MetricType
		value      func(expiring.Stats) float64
	}
	defs := []def{
		{EntriesName, "Entries currently held by the store.", dto.MetricType_GAUGE,
			func(s expiring.Stats) float64 { return float64(s.Live) }},
		{PendingName, "Scheduled evictions that have not fired yet.", dto.MetricType_GAUGE,
			func(s expiring.Stats) float64 { return float64(s.Pending) }},
		{AddedName, "Entries inserted by Add or Put.", dto.MetricType_COUNTER,
			func(s expiring.Stats) float64 { return float64(s.Added) }},
		{ReplacedName, "Entries overwritten by Put.", dto.MetricType_COUNTER,
			func(s expiring.Stats) float64 { return float64(s.Replaced) }},
		{RemovedName, "Entries deleted by Remove.", dto.MetricType_COUNTER,
			func(s expiring.Stats) float64 { return float64(s.Removed) }},
		{ExpiredName, "Entries evicted because their expiration time passed.", dto.MetricType_COUNTER,
			func(s expiring.Stats) float64 { return float64(s.Expired) }},
		{ExhaustedName, "Entries discarded after their retry budget ran out.", dto.MetricType_COUNTER,
			func(s expiring.Stats) float64 { return float64(s.Exhausted) }},
	}

	out := make([]*dto.MetricFamily, 0, len(defs))
	for _, d := range defs {
		mf := &dto.MetricFamily{
			Name: proto.String(d.name),
			Help: proto.String(d.help),
			Type: d.typ.Enum(),
		}
		for _, s := range stats {
			m := &dto.Metric{
				Label: []*dto.LabelPair{{Name: proto.String("store"), Value: proto.String(s.Name)}},
			}
			v := proto.Float64(d.value(s))
			if d.typ == dto.MetricType_COUNTER {
				m.Counter = &dto.Counter{Value: v}
			} else {
				m.Gauge = &dto.Gauge{Value: v}
			}
			mf.Metric = append(mf.Metric, m)
		}
		out = append(out, mf)
	}
	return out
}

// Handler serves the registry's store stats in the Prometheus text format.
func Handler(reg *registry.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		stores := reg.List()
		stats := make([]expiring.Stats, 0, len(stores))
		for _, st := range stores {
			stats = append(stats, st.Stats())
		}

		var buf bytes.Buffer
		for _, mf := range Collect(stats) {
			if len(mf.Metric) == 0 {
				// expfmt rejects families without samples.
				continue
			}
			if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
				slog.Error("metrics: encode family", "family", mf.GetName(), "err", err)
				http.Error(w, "encode metrics", http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes()) //nolint:errcheck
	})
}
