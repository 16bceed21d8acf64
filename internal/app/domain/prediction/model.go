package prediction

import "time"

// Status is the lifecycle state of a prediction.
type Status string

const (
	StatusOpen    Status = "open"
	StatusLocked  Status = "locked"
	StatusSettled Status = "settled"
	StatusVoid    Status = "void"
)

// CanTransition reports whether a prediction may move between two states.
// Open predictions lock, locked predictions settle, and anything not yet
// settled can be voided.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusLocked || to == StatusVoid
	case StatusLocked:
		return to == StatusSettled || to == StatusVoid
	default:
		return false
	}
}

// Prediction is a wager market authored by a user. Stakes accumulate per
// outcome while the prediction is open; settlement pays winners pro rata
// from the pooled stakes.
type Prediction struct {
	ID               string    `json:"id"`
	Author           string    `json:"author"`
	Title            string    `json:"title"`
	Body             string    `json:"body,omitempty"`
	Outcomes         []Outcome `json:"outcomes"`
	Status           Status    `json:"status"`
	StakeSymbol      string    `json:"stake_symbol"`
	MinStake         float64   `json:"min_stake"`
	MaxStake         float64   `json:"max_stake"`
	FeePercent       float64   `json:"fee_percent"`
	EscrowAccount    string    `json:"escrow_account"`
	WinningOutcomeID string    `json:"winning_outcome_id,omitempty"`
	LocksAt          time.Time `json:"locks_at"`
	SettledAt        time.Time `json:"settled_at,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Outcome is one side of a prediction.
type Outcome struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	StakeTotal float64 `json:"stake_total"`
	StakeCount int     `json:"stake_count"`
}

// Outcome lookup by ID; returns false when absent.
func (p Prediction) Outcome(id string) (Outcome, bool) {
	for _, o := range p.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// StakeStatus tracks verification of an individual stake.
type StakeStatus string

const (
	// StakePending awaits on-chain confirmation of the escrow transfer.
	StakePending StakeStatus = "pending"
	// StakeConfirmed counts toward outcome totals and settlement.
	StakeConfirmed StakeStatus = "confirmed"
	// StakeRejected failed verification and is excluded from the pool.
	StakeRejected StakeStatus = "rejected"
)

// Stake is a user's commitment to an outcome. At most one stake per account
// per prediction.
type Stake struct {
	ID           string      `json:"id"`
	PredictionID string      `json:"prediction_id"`
	OutcomeID    string      `json:"outcome_id"`
	Account      string      `json:"account"`
	Amount       float64     `json:"amount"`
	Symbol       string      `json:"symbol"`
	TxID         string      `json:"tx_id,omitempty"`
	Status       StakeStatus `json:"status"`
	Payout       float64     `json:"payout"`
	PayoutTxID   string      `json:"payout_tx_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
