package domain

import (
	"fmt"
	"strconv"
)

// Suit is one of the four Spanish suits.
type Suit string

const (
	SuitOros    Suit = "oros"
	SuitCopas   Suit = "copas"
	SuitEspadas Suit = "espadas"
	SuitBastos  Suit = "bastos"
)

// Suits lists the suits in canonical deck order.
var Suits = []Suit{SuitOros, SuitCopas, SuitEspadas, SuitBastos}

// Rank is the ordinal of a card within its suit: 1..7, then sota=8, caballo=9, rey=10.
type Rank int

const (
	RankSota    Rank = 8
	RankCaballo Rank = 9
	RankRey     Rank = 10
)

// Ranks lists the ranks in canonical deck order.
var Ranks = []Rank{1, 2, 3, 4, 5, 6, 7, RankSota, RankCaballo, RankRey}

// String returns the rank name used on the wire ("1".."7", "sota", "caballo", "rey").
func (r Rank) String() string {
	switch r {
	case RankSota:
		return "sota"
	case RankCaballo:
		return "caballo"
	case RankRey:
		return "rey"
	default:
		return strconv.Itoa(int(r))
	}
}

// MarshalText encodes the rank by name.
func (r Rank) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid rank %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rank name.
func (r *Rank) UnmarshalText(text []byte) error {
	parsed, err := ParseRank(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Valid reports whether r is one of the ten ranks of the deck.
func (r Rank) Valid() bool {
	return r >= 1 && r <= RankRey
}

// ParseRank converts a rank name back to a Rank.
func ParseRank(s string) (Rank, error) {
	switch s {
	case "sota":
		return RankSota, nil
	case "caballo":
		return RankCaballo, nil
	case "rey":
		return RankRey, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 7 {
		return 0, fmt.Errorf("invalid rank %q", s)
	}
	return Rank(n), nil
}

// Card is a single immutable card. ID is unique within a deck.
type Card struct {
	Suit Suit   `json:"suit"`
	Rank Rank   `json:"rank"`
	ID   string `json:"id"`
}

// NewCard builds a card with its canonical id ("oros-1", "copas-rey").
func NewCard(suit Suit, rank Rank) Card {
	return Card{Suit: suit, Rank: rank, ID: CardID(suit, rank)}
}

// CardID returns the canonical id of a (suit, rank) pair.
func CardID(suit Suit, rank Rank) string {
	return string(suit) + "-" + rank.String()
}

// CardValue returns the point value of a rank: face cards count 10, numerals their number.
func CardValue(rank Rank) int {
	if rank >= RankSota {
		return 10
	}
	return int(rank)
}

// Value is shorthand for CardValue(c.Rank).
func (c Card) Value() int {
	return CardValue(c.Rank)
}

func (c Card) String() string {
	return c.ID
}

// HandValue sums the point values of the given cards.
func HandValue(cards []Card) int {
	total := 0
	for _, c := range cards {
		total += c.Value()
	}
	return total
}
