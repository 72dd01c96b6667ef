package detect

import (
	"fmt"
	"net/netip"

	cmap "github.com/orcaman/concurrent-map/v2"

	"nipi/internal/model"
)

// membershipRule fires when either endpoint of a new flow appears on the
// denylist. The list is immutable after construction; only the per-window
// suppression set mutates.
type membershipRule struct {
	deny  map[netip.Addr]struct{}
	fired cmap.ConcurrentMap[string, struct{}]
}

func newMembershipRule(deny map[netip.Addr]struct{}) *membershipRule {
	return &membershipRule{deny: deny, fired: cmap.New[struct{}]()}
}

func (r *membershipRule) Name() string { return "denylist" }

func (r *membershipRule) EvaluateFlow(update *model.FlowUpdate) *model.SecurityEvent {
	if len(r.deny) == 0 || !update.NewFlow {
		return nil
	}
	rec := update.Record

	matched := netip.Addr{}
	if _, ok := r.deny[rec.SrcIP]; ok {
		matched = rec.SrcIP
	} else if _, ok := r.deny[rec.DstIP]; ok {
		matched = rec.DstIP
	}
	if !matched.IsValid() {
		return nil
	}

	id := matched.String()
	if _, seen := r.fired.Get(id); seen {
		return nil
	}
	r.fired.Set(id, struct{}{})

	key := update.Key
	return newEvent(model.EventBlacklisted, model.SeverityHigh,
		rec.SrcIP, rec.DstIP, &key,
		fmt.Sprintf("traffic with denylisted endpoint %s", id),
		1, 0, rec.Timestamp)
}

func (r *membershipRule) EvaluateSnapshot(*model.MetricSnapshot) *model.SecurityEvent { return nil }

func (r *membershipRule) Rollover() { r.fired.Clear() }
