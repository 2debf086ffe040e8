package domain

import (
	"fmt"
	"math/rand"
)

// NewDeck returns the 40 canonical cards, ordered by suit then rank.
func NewDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, s := range Suits {
		for _, r := range Ranks {
			deck = append(deck, NewCard(s, r))
		}
	}
	return deck
}

// ShuffleDeck returns a shuffled copy of the given deck using rng.
func ShuffleDeck(deck []Card, rng *rand.Rand) []Card {
	out := make([]Card, len(deck))
	copy(out, deck)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Deal is the initial partition of a deck.
type Deal struct {
	HandA   []Card
	HandB   []Card
	Discard []Card
	Stock   []Card
}

// DealDeck splits a 40-card deck: 7 cards to A, 7 to B, one face up, the rest as stock.
func DealDeck(deck []Card) (Deal, error) {
	if len(deck) != DeckSize {
		return Deal{}, fmt.Errorf("%w: got %d", ErrDeckSize, len(deck))
	}
	cards := append([]Card(nil), deck...)
	return Deal{
		HandA:   cards[0:HandSize:HandSize],
		HandB:   cards[HandSize : 2*HandSize : 2*HandSize],
		Discard: []Card{cards[2*HandSize]},
		Stock:   append([]Card(nil), cards[2*HandSize+1:]...),
	}, nil
}
