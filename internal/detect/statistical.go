package detect

import (
	"fmt"
	"math"
	"net/netip"
	"sync"

	"nipi/internal/model"
)

// minBaseline is the smallest number of trailing windows the z-score rule
// needs before it starts judging; below it every snapshot is baseline.
const minBaseline = 3

// zScoreRule flags a window whose total byte volume deviates from the
// trailing baseline by more than zmax standard deviations. Every window
// feeds the baseline, anomalous or not, so a sustained shift becomes the
// new normal instead of alerting forever.
type zScoreRule struct {
	zmax     float64
	capacity int

	mu      sync.Mutex
	history []float64
}

func newZScoreRule(zmax float64, baselineWindows int) *zScoreRule {
	return &zScoreRule{zmax: zmax, capacity: baselineWindows}
}

func (r *zScoreRule) Name() string { return "volume-anomaly" }

func (r *zScoreRule) EvaluateFlow(*model.FlowUpdate) *model.SecurityEvent { return nil }

func (r *zScoreRule) EvaluateSnapshot(snap *model.MetricSnapshot) *model.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	observed := float64(snap.Bytes)
	var ev *model.SecurityEvent
	if len(r.history) >= minBaseline {
		mean, std := meanStddev(r.history)
		if std > 0 {
			z := math.Abs(observed-mean) / std
			if z > r.zmax {
				ev = newEvent(model.EventAnomaly, model.SeverityMedium,
					netip.Addr{}, netip.Addr{}, nil,
					fmt.Sprintf("window volume %.0f bytes deviates %.1f sigma from baseline %.0f", observed, z, mean),
					z, r.zmax, snap.WindowEnd)
			}
		}
	}

	r.history = append(r.history, observed)
	if len(r.history) > r.capacity {
		r.history = r.history[len(r.history)-r.capacity:]
	}
	return ev
}

// Rollover is a no-op: the baseline spans windows on purpose.
func (r *zScoreRule) Rollover() {}

func meanStddev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
