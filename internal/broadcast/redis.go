package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"chinchon/internal/app"
	"chinchon/internal/domain"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix prefixes the pub/sub channel of every match.
const ChannelPrefix = "chinchon:match:"

// Message is the payload published for external subscribers. It carries the public view only.
type Message struct {
	MatchID string            `json:"match_id"`
	View    domain.PlayerView `json:"view"`
	Events  []app.Event       `json:"events"`
}

// RedisPublisher publishes match updates on a Redis channel keyed by match id.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Channel returns the pub/sub channel of matchID.
func Channel(matchID string) string {
	return ChannelPrefix + matchID
}

// Publish sends the public view of update. Events addressed to specific players are dropped.
func (p *RedisPublisher) Publish(ctx context.Context, update app.Update) error {
	data, err := json.Marshal(PublicMessage(update))
	if err != nil {
		return fmt.Errorf("marshal match update: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(update.MatchID), data).Err(); err != nil {
		return fmt.Errorf("publish match update: %w", err)
	}
	return nil
}

// PublicMessage builds the message anyone may see.
func PublicMessage(update app.Update) Message {
	msg := Message{MatchID: update.MatchID, Events: []app.Event{}}
	if update.Match != nil {
		msg.View = update.Match.ViewFor("")
	}
	for _, ev := range update.Events {
		if len(ev.Recipients) == 0 {
			msg.Events = append(msg.Events, ev)
		}
	}
	return msg
}

var _ app.Publisher = (*RedisPublisher)(nil)
