package leaderboard

import "time"

// Entry is the per-account aggregate recomputed by the rollup job from
// settled predictions.
type Entry struct {
	Account     string    `json:"account"`
	StakeVolume float64   `json:"stake_volume"`
	Settled     int       `json:"settled"`
	Wins        int       `json:"wins"`
	WinRate     float64   `json:"win_rate"`
	NetPayout   float64   `json:"net_payout"`
	UpdatedAt   time.Time `json:"updated_at"`
}
