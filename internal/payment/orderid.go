package payment

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const orderIDSeparator = "-"

// OrderIDGenerator issues processor order ids of the form {orderId}-{unix}.
// Ids for the same order are strictly increasing within a process, so two
// redirect builds inside the same second get distinct ids.
type OrderIDGenerator struct {
	Now func() time.Time

	mu   sync.Mutex
	last map[int64]int64
}

// Next returns a fresh processor order id for orderID.
func (g *OrderIDGenerator) Next(orderID int64) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	ts := now().Unix()

	g.mu.Lock()
	if g.last == nil {
		g.last = make(map[int64]int64)
	}
	if prev, ok := g.last[orderID]; ok && ts <= prev {
		ts = prev + 1
	}
	g.last[orderID] = ts
	if len(g.last) > 4096 {
		g.pruneLocked(now().Unix())
	}
	g.mu.Unlock()

	return strconv.FormatInt(orderID, 10) + orderIDSeparator + strconv.FormatInt(ts, 10)
}

// pruneLocked drops entries that can no longer collide with the wall clock.
func (g *OrderIDGenerator) pruneLocked(nowUnix int64) {
	for id, ts := range g.last {
		if ts < nowUnix {
			delete(g.last, id)
		}
	}
}

// ExtractOrderID recovers the local order id from a processor order id.
func ExtractOrderID(processorOrderID string) (int64, bool) {
	value := strings.TrimSpace(processorOrderID)
	idx := strings.Index(value, orderIDSeparator)
	if idx <= 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(value[:idx], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
