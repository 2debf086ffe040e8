package nakama

import (
	"context"
	"encoding/json"
	"fmt"

	"chinchon/internal/app"

	"github.com/heroiclabs/nakama-common/runtime"
)

// signalPublisher forwards updates made outside the match loop to the match's realtime room.
type signalPublisher struct {
	nk runtime.NakamaModule
}

// NewSignalPublisher returns a publisher that signals the room named by the match channel.
// Matches without a channel are skipped.
func NewSignalPublisher(nk runtime.NakamaModule) app.Publisher {
	return &signalPublisher{nk: nk}
}

func (p *signalPublisher) Publish(ctx context.Context, update app.Update) error {
	if update.Match == nil || update.Match.Channel == "" {
		return nil
	}
	events, err := toWireEvents(update.Events)
	if err != nil {
		return err
	}
	b, err := json.Marshal(signalUpdate{MatchID: update.MatchID, Events: events})
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	if _, err := p.nk.MatchSignal(ctx, update.Match.Channel, string(b)); err != nil {
		return fmt.Errorf("failed to signal match %s: %w", update.Match.Channel, err)
	}
	return nil
}

// dispatcherPublisher delivers updates made inside the match loop straight to the connected presences.
type dispatcherPublisher struct {
	mh         *matchHandler
	state      *MatchState
	dispatcher runtime.MatchDispatcher
	logger     runtime.Logger
}

func (p *dispatcherPublisher) Publish(ctx context.Context, update app.Update) error {
	events, err := toWireEvents(update.Events)
	if err != nil {
		return err
	}
	p.mh.deliver(p.state, p.dispatcher, p.logger, update.Match, events)
	return nil
}
