package metrics

import "expvar"

// Process-wide counters, published under /debug/vars. They aggregate over
// every run in the process.
var (
	TicksTotal        = expvar.NewInt("agora_ticks_total")
	ActionsTotal      = expvar.NewInt("agora_actions_total")
	ActionsRejected   = expvar.NewInt("agora_actions_rejected_total")
	DecisionTimeouts  = expvar.NewInt("agora_decision_timeouts_total")
	TradesTotal       = expvar.NewInt("agora_trades_total")
	ContractsBreached = expvar.NewInt("agora_contracts_breached_total")
	ProposalsResolved = expvar.NewInt("agora_proposals_resolved_total")
	SnapshotsWritten  = expvar.NewInt("agora_snapshots_written_total")
)

// Inc increments a counter by one.
func Inc(counter *expvar.Int) { counter.Add(1) }
