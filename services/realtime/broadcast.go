package realtime

import (
	"log"

	"quote_alert_backend/models"
)

// Broadcast delivers each connection the subset of quotes it subscribes to.
// Connections whose buffer is full are removed; others are unaffected.
// Returns the number of connections that received a frame.
func (r *Registry) Broadcast(batch []models.Quote) int {
	if len(batch) == 0 {
		return 0
	}

	delivered := 0
	var dead []string

	r.mu.RLock()
	for id, c := range r.conns {
		subset := make([]models.Quote, 0, len(batch))
		for _, q := range batch {
			if _, ok := c.subscribed[q.Symbol]; ok {
				subset = append(subset, q)
			}
		}
		if len(subset) == 0 {
			continue
		}

		frame, err := QuoteFrame(subset)
		if err != nil {
			log.Printf("Error marshaling quote frame: %v", err)
			continue
		}
		if c.enqueue(frame) {
			delivered++
		} else {
			dead = append(dead, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range dead {
		log.Printf("Warning: dropping slow websocket connection %s", id)
		r.Remove(id)
	}
	return delivered
}
