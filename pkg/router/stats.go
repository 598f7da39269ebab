package router

import (
	"synbridge/pkg/connection"
	"synbridge/pkg/validator"
)

// Stats aggregates router, connection and validation counters.
type Stats struct {
	Connected        bool             `json:"connected"`
	CommandsSent     int64            `json:"commands_sent"`
	CommandsRouted   int64            `json:"commands_routed"`
	ResultsDelivered int64            `json:"results_delivered"`
	ResultsDropped   int64            `json:"results_dropped"`
	ResultsReceived  int64            `json:"results_received"`
	FramesDropped    int64            `json:"frames_dropped"`
	PendingCallbacks int              `json:"pending_callbacks"`
	Connection       connection.Stats `json:"connection"`
	Validation       validator.Stats  `json:"validation"`
}

// GetStats returns a snapshot of all counters.
func (r *Router) GetStats() Stats {
	r.pendingMu.Lock()
	pending := len(r.pending)
	r.pendingMu.Unlock()

	return Stats{
		Connected:        r.conn.IsConnected(),
		CommandsSent:     r.commandsSent.Load(),
		CommandsRouted:   r.commandsRouted.Load(),
		ResultsDelivered: r.resultsDelivered.Load(),
		ResultsDropped:   r.resultsDropped.Load(),
		ResultsReceived:  r.resultsReceived.Load(),
		FramesDropped:    r.framesDropped.Load(),
		PendingCallbacks: pending,
		Connection:       r.conn.Stats(),
		Validation:       r.validator.Stats(),
	}
}
