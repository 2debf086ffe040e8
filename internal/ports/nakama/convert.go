package nakama

import (
	"encoding/json"
	"fmt"

	"chinchon/internal/app"
	"chinchon/internal/domain"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Match label keys used by MatchList queries.
const (
	MatchLabelKey_Game   = "game"
	MatchLabelKey_Match  = "match_id"
	MatchLabelKey_Status = "status"
	MatchLabelKey_Open   = "open"
	MatchLabelKey_Stake  = "stake"

	labelGame = "chinchon"
)

// wireEvent is an app event with its payload already encoded.
type wireEvent struct {
	Kind       app.EventKind   `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Recipients []string        `json:"recipients,omitempty"`
}

// clientEvent is what a client receives under OpEvent.
type clientEvent struct {
	Kind    app.EventKind   `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// signalUpdate is handed from the RPC path to the match loop through MatchSignal.
type signalUpdate struct {
	MatchID string      `json:"match_id"`
	Events  []wireEvent `json:"events"`
	// Close asks the room to shut down.
	Close bool `json:"close,omitempty"`
}

// errorMessage is sent under OpError to the presence whose message was rejected.
type errorMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// actionMessage is the body of OpDiscard and OpClose.
type actionMessage struct {
	CardID string `json:"card_id"`
}

func toWireEvents(events []app.Event) ([]wireEvent, error) {
	out := make([]wireEvent, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.Kind, err)
		}
		out = append(out, wireEvent{Kind: ev.Kind, Payload: payload, Recipients: ev.Recipients})
	}
	return out, nil
}

// openSeats returns how many seats can still be taken.
func openSeats(m *domain.Match) int {
	if m == nil {
		return domain.PlayersPerMatch
	}
	if m.Status != domain.StatusWaiting {
		return 0
	}
	return domain.PlayersPerMatch - len(m.Players)
}

// buildLabel renders the match label. A nil match yields the label of a room whose record is not stored yet.
func buildLabel(matchID string, m *domain.Match, stake int64) (string, error) {
	status := string(domain.StatusWaiting)
	if m != nil {
		status = string(m.Status)
		stake = m.StakeAmount
	}
	label, err := structpb.NewStruct(map[string]interface{}{
		MatchLabelKey_Game:   labelGame,
		MatchLabelKey_Match:  matchID,
		MatchLabelKey_Status: status,
		MatchLabelKey_Open:   openSeats(m),
		MatchLabelKey_Stake:  stake,
	})
	if err != nil {
		return "", err
	}
	b, err := (&protojson.MarshalOptions{EmitUnpopulated: true}).Marshal(label)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
