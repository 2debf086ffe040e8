package domain

import (
	"math/bits"
	"sort"
)

// MeldKind identifies the shape of a meld.
type MeldKind string

const (
	// MeldSequence is three or more consecutive ranks of one suit.
	MeldSequence MeldKind = "sequence"
	// MeldSet is three or more cards of one rank in distinct suits.
	MeldSet MeldKind = "set"
)

// Meld is a group of cards removed from scoring.
type Meld struct {
	Kind  MeldKind `json:"kind"`
	Cards []Card   `json:"cards"`
	Value int      `json:"value"`
}

// MeldResult is the optimal partition of a hand.
type MeldResult struct {
	Melds          []Meld `json:"melds"`
	Unmelded       []Card `json:"unmelded"`
	UnmeldedPoints int    `json:"unmelded_points"`
	// Perfect is set when every card of the hand is melded.
	Perfect bool `json:"perfect"`
}

// CanClose reports whether the partition is low enough to close the hand.
func (r MeldResult) CanClose() bool {
	return r.UnmeldedPoints <= MaxClosePoints
}

// IsValidSequence checks for ≥3 cards of one suit with strictly consecutive ranks.
func IsValidSequence(cards []Card) bool {
	if len(cards) < MinMeldSize {
		return false
	}
	ranks := make([]int, len(cards))
	suit := cards[0].Suit
	for i, c := range cards {
		if c.Suit != suit {
			return false
		}
		ranks[i] = int(c.Rank)
	}
	sort.Ints(ranks)
	for i := 1; i < len(ranks); i++ {
		if ranks[i] != ranks[i-1]+1 {
			return false
		}
	}
	return true
}

// IsValidSet checks for ≥3 cards of one rank with pairwise distinct suits.
func IsValidSet(cards []Card) bool {
	if len(cards) < MinMeldSize {
		return false
	}
	rank := cards[0].Rank
	suits := make(map[Suit]bool, len(cards))
	for _, c := range cards {
		if c.Rank != rank || suits[c.Suit] {
			return false
		}
		suits[c.Suit] = true
	}
	return true
}

// IdentifyMeld classifies cards as a sequence or a set; ok is false for neither.
func IdentifyMeld(cards []Card) (MeldKind, bool) {
	switch {
	case IsValidSequence(cards):
		return MeldSequence, true
	case IsValidSet(cards):
		return MeldSet, true
	default:
		return "", false
	}
}

type meldCandidate struct {
	mask  uint32
	kind  MeldKind
	value int
}

// maxSolverCards bounds the subset enumeration; hands never exceed MaxHandSize.
const maxSolverCards = 16

// BestMelds finds the disjoint melds that minimise the unmelded point total.
//
// Every subset of the hand is tested for validity, largest first, and the
// partition is solved exactly by a search memoised on the bitmask of cards
// still available. When several partitions tie, the first one found wins.
func BestMelds(hand []Card) MeldResult {
	n := len(hand)
	if n > maxSolverCards {
		n = maxSolverCards
	}
	cards := hand[:n]

	candidates := meldCandidates(cards)

	full := uint32(1)<<uint(n) - 1
	memo := make(map[uint32]int, 1<<uint(n))
	choice := make(map[uint32]int, 1<<uint(n))

	var best func(mask uint32) int
	best = func(mask uint32) int {
		if mask == 0 {
			return 0
		}
		if v, ok := memo[mask]; ok {
			return v
		}
		low := mask & -mask
		// Leave the lowest card unmelded.
		value := best(mask &^ low)
		picked := -1
		for i, c := range candidates {
			if c.mask&low == 0 || c.mask&mask != c.mask {
				continue
			}
			if v := c.value + best(mask&^c.mask); v > value {
				value = v
				picked = i
			}
		}
		memo[mask] = value
		choice[mask] = picked
		return value
	}
	best(full)

	result := MeldResult{}
	mask := full
	for mask != 0 {
		low := mask & -mask
		picked := choice[mask]
		if picked < 0 {
			result.Unmelded = append(result.Unmelded, cards[bits.TrailingZeros32(low)])
			mask &^= low
			continue
		}
		c := candidates[picked]
		result.Melds = append(result.Melds, Meld{Kind: c.kind, Cards: cardsOf(cards, c.mask), Value: c.value})
		mask &^= c.mask
	}
	// Cards beyond the solver bound are never melded.
	result.Unmelded = append(result.Unmelded, hand[n:]...)
	result.UnmeldedPoints = HandValue(result.Unmelded)
	result.Perfect = len(hand) > 0 && len(result.Unmelded) == 0
	return result
}

// meldCandidates enumerates every valid meld of the hand, largest subsets first.
func meldCandidates(cards []Card) []meldCandidate {
	n := len(cards)
	var out []meldCandidate
	for mask := uint32(1); mask < uint32(1)<<uint(n); mask++ {
		if bits.OnesCount32(mask) < MinMeldSize {
			continue
		}
		subset := cardsOf(cards, mask)
		kind, ok := IdentifyMeld(subset)
		if !ok {
			continue
		}
		out = append(out, meldCandidate{mask: mask, kind: kind, value: HandValue(subset)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return bits.OnesCount32(out[i].mask) > bits.OnesCount32(out[j].mask)
	})
	return out
}

func cardsOf(cards []Card, mask uint32) []Card {
	out := make([]Card, 0, bits.OnesCount32(mask))
	for i := range cards {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, cards[i])
		}
	}
	return out
}
