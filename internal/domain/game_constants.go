package domain

const (
	// DeckSize is the number of cards in a Spanish deck without eights and nines.
	DeckSize = 40
	// HandSize is the number of cards dealt to each player.
	HandSize = 7
	// MaxHandSize is the size a hand reaches after drawing, before the discard.
	MaxHandSize = HandSize + 1
	// MaxClosePoints is the highest unmelded total that still allows a close.
	MaxClosePoints = 7
	// MinMeldSize is the smallest number of cards forming a sequence or a set.
	MinMeldSize = 3
	// PlayersPerMatch is the number of seats in a match.
	PlayersPerMatch = 2
)
