package domain

// AccountStats are the lifetime counters of an account.
type AccountStats struct {
	MatchesPlayed int64 `json:"matches_played"`
	Wins          int64 `json:"wins"`
	Losses        int64 `json:"losses"`
	TotalStaked   int64 `json:"total_staked"`
	TotalWon      int64 `json:"total_won"`
}

// Account is the engine's read view of a player's balance and stats.
type Account struct {
	ID      string       `json:"id"`
	Balance int64        `json:"balance"`
	Stats   AccountStats `json:"stats"`
}

// Add applies a stats increment.
func (s AccountStats) Add(d StatsDelta) AccountStats {
	s.MatchesPlayed += d.MatchesPlayed
	s.Wins += d.Wins
	s.Losses += d.Losses
	s.TotalStaked += d.TotalStaked
	s.TotalWon += d.TotalWon
	return s
}

// Apply returns the account after delta.
func (a Account) Apply(delta AccountDelta) Account {
	a.Balance += delta.Balance
	a.Stats = a.Stats.Add(delta.Stats)
	return a
}
