package ae

import (
	"context"
	"time"

	"github.com/luxfi/safenode/internal/knowledge"
	"github.com/luxfi/safenode/internal/xorname"
)

// Prober periodically emits a cheap liveness+version probe to every other
// elder of the one SAP its caller supplies (the node's own section), so idle
// nodes still converge even without client traffic forcing an AE exchange.
type Prober struct {
	interval time.Duration
	send     func(elder xorname.XorName, sap knowledge.SAP)
}

// NewProber creates a Prober that invokes send for every elder of the
// node's own section on each tick.
func NewProber(interval time.Duration, send func(elder xorname.XorName, sap knowledge.SAP)) *Prober {
	return &Prober{interval: interval, send: send}
}

// Run blocks, ticking every interval and probing own-section elders, until
// ctx is cancelled. own is called fresh on each tick so a changed SAP
// (handover, split) is reflected immediately.
func (p *Prober) Run(ctx context.Context, own func() (knowledge.SAP, xorname.XorName)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sap, self := own()
			for _, e := range sap.Elders {
				if e.Name == self {
					continue
				}
				p.send(e.Name, sap)
			}
		}
	}
}
