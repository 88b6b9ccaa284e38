package domain

import "time"

// AdmissionOutcome classifies the result of feeding one signal through the
// admission pipeline.
type AdmissionOutcome string

const (
	// AdmissionAccepted means the signal proceeds to sizing and opening.
	AdmissionAccepted AdmissionOutcome = "accepted"
	// AdmissionRejected means the signal is dropped permanently.
	AdmissionRejected AdmissionOutcome = "rejected"
	// AdmissionSkipped means the signal is dropped but the condition is
	// transient; a fresh signal for the same symbol may pass later.
	AdmissionSkipped AdmissionOutcome = "skipped"
)

// Reason codes. Every rejection or skip is attributable to exactly one.
const (
	ReasonMissingFields         = "missing_fields"
	ReasonNotTradable           = "not_tradable"
	ReasonNotRealData           = "not_real_data"
	ReasonStaleSignal           = "stale_signal"
	ReasonPriceDrift            = "price_drift"
	ReasonLowConfidence         = "low_confidence"
	ReasonAdvisorVeto           = "advisor_veto"
	ReasonSymbolCooldown        = "symbol_cooldown"
	ReasonMaxPositions          = "max_positions"
	ReasonMaxPositionsPerSymbol = "max_positions_per_symbol"
	ReasonSymbolExists          = "symbol_exists"
	ReasonInsufficientCapital   = "insufficient_capital"
	ReasonEnginePaused          = "engine_paused"
	ReasonAccepted              = "accepted"
)

// AdmissionDecision is the telemetry record emitted for every signal fed to
// the pipeline, accepted or not.
type AdmissionDecision struct {
	ID             string
	SignalID       string
	Symbol         string
	Strategy       string
	Outcome        AdmissionOutcome
	Reason         string
	Confidence     float64 // signal confidence at decision time
	Threshold      float64 // effective confidence threshold applied
	CurrentPrice   float64
	ReferencePrice float64
	SizeMultiplier float64 // advisory scaling applied; 1 when unused
	DecidedAt      time.Time
}

// Accepted reports whether the decision admits the signal.
func (d AdmissionDecision) Accepted() bool {
	return d.Outcome == AdmissionAccepted
}
