package domain

import (
	"fmt"
	"math"
)

// DefaultCommissionRate is the house share of the pot when none is configured.
const DefaultCommissionRate = 0.05

// SettlementPolicy carries the configured payout parameters.
type SettlementPolicy struct {
	CommissionRate float64
	// PerfectClosureMultiplier scales the winner payout on a perfect closure.
	// Zero or one leaves a perfect closure paid as an ordinary win.
	PerfectClosureMultiplier float64
}

// StatsDelta is an increment applied to an account's statistics.
type StatsDelta struct {
	MatchesPlayed int64 `json:"matches_played"`
	Wins          int64 `json:"wins"`
	Losses        int64 `json:"losses"`
	TotalStaked   int64 `json:"total_staked"`
	TotalWon      int64 `json:"total_won"`
}

// AccountDelta is the balance and stats change for one account.
type AccountDelta struct {
	AccountID string     `json:"account_id"`
	Balance   int64      `json:"balance"`
	Stats     StatsDelta `json:"stats"`
}

// Settlement is the stake redistribution of a finished match.
type Settlement struct {
	MatchID        string         `json:"match_id"`
	WinnerID       string         `json:"winner_id"`
	LoserID        string         `json:"loser_id"`
	Stake          int64          `json:"stake"`
	Pot            int64          `json:"pot"`
	Commission     int64          `json:"commission"`
	WinnerPayout   int64          `json:"winner_payout"`
	PerfectClosure bool           `json:"perfect_closure"`
	Multiplier     float64        `json:"multiplier"`
	Deltas         []AccountDelta `json:"deltas"`
}

// WinnerNet returns the winner's balance change.
func (s Settlement) WinnerNet() int64 {
	return s.WinnerPayout - s.Stake
}

// HouseTake returns what the house keeps; negative when a multiplier pays out more than the pot.
func (s Settlement) HouseTake() int64 {
	return s.Pot - s.WinnerPayout
}

// CalculateSettlement computes the stake redistribution between winner and loser.
func CalculateSettlement(matchID string, stake int64, winnerID, loserID string, perfect bool, policy SettlementPolicy) (Settlement, error) {
	if stake <= 0 {
		return Settlement{}, fmt.Errorf("%w: stake must be positive", ErrIllegalAction)
	}
	if winnerID == "" || loserID == "" || winnerID == loserID {
		return Settlement{}, fmt.Errorf("%w: settlement needs two distinct players", ErrIllegalAction)
	}
	rate := policy.CommissionRate
	if rate < 0 || rate >= 1 {
		return Settlement{}, fmt.Errorf("commission rate %v out of range", rate)
	}

	pot := stake * 2
	commission := int64(math.Round(float64(pot) * rate))
	payout := pot - commission

	multiplier := 1.0
	if perfect && policy.PerfectClosureMultiplier > 0 {
		multiplier = policy.PerfectClosureMultiplier
		payout = int64(math.Round(float64(payout) * multiplier))
	}

	return Settlement{
		MatchID:        matchID,
		WinnerID:       winnerID,
		LoserID:        loserID,
		Stake:          stake,
		Pot:            pot,
		Commission:     commission,
		WinnerPayout:   payout,
		PerfectClosure: perfect,
		Multiplier:     multiplier,
		Deltas: []AccountDelta{
			{
				AccountID: winnerID,
				Balance:   payout - stake,
				Stats:     StatsDelta{MatchesPlayed: 1, Wins: 1, TotalStaked: stake, TotalWon: payout},
			},
			{
				AccountID: loserID,
				Balance:   -stake,
				Stats:     StatsDelta{MatchesPlayed: 1, Losses: 1, TotalStaked: stake},
			},
		},
	}, nil
}

// StakeHolds returns the debits that commit every player's stake when a match starts.
func StakeHolds(stake int64, players []string) []AccountDelta {
	holds := make([]AccountDelta, 0, len(players))
	for _, p := range players {
		holds = append(holds, AccountDelta{AccountID: p, Balance: -stake})
	}
	return holds
}

// Payouts returns the balance changes still due at settlement once both stakes were held at start.
// The winner is credited the payout; the loser has nothing more to pay. Stats are unchanged.
func (s Settlement) Payouts() []AccountDelta {
	out := make([]AccountDelta, 0, len(s.Deltas))
	for _, d := range s.Deltas {
		d.Balance += s.Stake
		out = append(out, d)
	}
	return out
}
