package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"chinchon/internal/app"
	"chinchon/internal/broadcast"
	"chinchon/internal/domain"

	"github.com/heroiclabs/nakama-common/runtime"
)

// MatchState holds the runtime state of the realtime room bound to one stored match.
// The stored match stays authoritative; the room only tracks who is connected.
type MatchState struct {
	MatchID   string                      `json:"match_id"`
	Stake     int64                       `json:"stake"`
	Status    domain.Status               `json:"status"`
	Tick      int64                       `json:"tick"`
	Closing   bool                        `json:"closing"`    // set when the match record could not be created
	TurnStart time.Time                   `json:"turn_start"` // as of the last delivered update
	Presences map[string]runtime.Presence `json:"-"`          // Map UserId -> Presence for targeted messaging
}

type matchHandler struct {
	engine *app.Engine
	// external receives loop updates too, for subscribers outside Nakama. May be nil.
	external app.Publisher
	now      func() time.Time
}

func newMatchHandler(engine *app.Engine, external app.Publisher) *matchHandler {
	return &matchHandler{engine: engine, external: external, now: time.Now}
}

// loopEngine returns the engine publishing straight to this room's presences.
func (mh *matchHandler) loopEngine(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) *app.Engine {
	return mh.engine.WithPublisher(broadcast.Fanout{
		&dispatcherPublisher{mh: mh, state: state, dispatcher: dispatcher, logger: logger},
		mh.external,
	})
}

// MatchInit is called when the room is created.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	matchID, _ := params[ParamMatchID].(string)
	if matchID == "" {
		logger.Error("MatchInit: Missing %s param.", ParamMatchID)
		return nil, 0, ""
	}

	state := &MatchState{
		MatchID:   matchID,
		Stake:     int64Param(params["stake"]),
		Status:    domain.StatusWaiting,
		Presences: make(map[string]runtime.Presence),
	}

	label, err := buildLabel(matchID, nil, state.Stake)
	if err != nil {
		logger.Error("MatchInit: Failed to marshal label: %v", err)
		return nil, 0, ""
	}

	tickRate := 1 // turn timeouts are measured in seconds
	return state, tickRate, label
}

func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}

	m, err := mh.engine.Get(ctx, matchState.MatchID)
	if err != nil {
		logger.Warn("MatchJoinAttempt: Match %s unavailable: %v", matchState.MatchID, err)
		return matchState, false, "match not found"
	}
	if m.HasPlayer(presence.GetUserId()) {
		return matchState, true, ""
	}
	if m.Status == domain.StatusWaiting && len(m.Players) < domain.PlayersPerMatch {
		return matchState, true, ""
	}
	return matchState, false, "Match full"
}

func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}

	for _, p := range presences {
		userID := p.GetUserId()
		matchState.Presences[userID] = p

		m, err := mh.engine.Get(ctx, matchState.MatchID)
		if err != nil {
			logger.Error("MatchJoin: Failed to load match %s: %v", matchState.MatchID, err)
			continue
		}
		if m.HasPlayer(userID) {
			trackTurn(matchState, m)
			mh.sendSnapshot(matchState, dispatcher, logger, m, userID)
			continue
		}

		// Joining the room takes the open seat. The engine publishes the snapshots.
		if _, err := mh.loopEngine(matchState, dispatcher, logger).Join(ctx, matchState.MatchID, userID); err != nil {
			logger.Warn("MatchJoin: User %s could not take a seat: %v", userID, err)
			mh.sendError(matchState, dispatcher, logger, userID, err)
			delete(matchState.Presences, userID)
			if err := dispatcher.MatchKick([]runtime.Presence{p}); err != nil {
				logger.Error("MatchJoin: Failed to kick %s: %v", userID, err)
			}
		}
	}

	return matchState
}

func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}

	for _, p := range presences {
		delete(matchState.Presences, p.GetUserId())
		logger.Debug("MatchLeave: User %s left match %s", p.GetUserId(), matchState.MatchID)
	}

	// Seats are kept on leave; an absent player loses the match through turn timeouts.
	if len(matchState.Presences) == 0 && matchState.Status == domain.StatusFinished {
		return nil
	}
	return matchState
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}

	matchState.Tick = tick
	if matchState.Closing {
		return nil
	}
	engine := mh.loopEngine(matchState, dispatcher, logger)

	for _, msg := range messages {
		var err error
		switch msg.GetOpCode() {
		case OpDrawStock:
			_, err = engine.DrawStock(ctx, matchState.MatchID, msg.GetUserId())
		case OpDrawDiscard:
			_, err = engine.DrawDiscard(ctx, matchState.MatchID, msg.GetUserId())
		case OpDiscard:
			err = mh.handleCardAction(ctx, matchState, msg, engine.Discard)
		case OpClose:
			err = mh.handleCardAction(ctx, matchState, msg, engine.Close)
		default:
			logger.Warn("MatchLoop: Unknown opcode received: %d", msg.GetOpCode())
			continue
		}
		if err != nil {
			logger.Warn("MatchLoop: User %s opcode %d rejected: %v", msg.GetUserId(), msg.GetOpCode(), err)
			mh.sendError(matchState, dispatcher, logger, msg.GetUserId(), err)
		}
	}

	if matchState.Status == domain.StatusPlaying && mh.turnDue(matchState) {
		if applied, err := engine.ExpireTurn(ctx, matchState.MatchID, mh.now()); err != nil {
			logger.Error("MatchLoop: Turn expiry failed for %s: %v", matchState.MatchID, err)
		} else if applied {
			logger.Info("MatchLoop: Turn expired in match %s", matchState.MatchID)
		}
	}

	if matchState.Status == domain.StatusFinished && len(matchState.Presences) == 0 {
		return nil
	}
	return matchState
}

// turnDue reports whether the current turn may have run out. A cached turn start can only
// lag the stored one, so a false answer never skips an expired turn.
func (mh *matchHandler) turnDue(state *MatchState) bool {
	timeout := mh.engine.TurnTimeout()
	if timeout <= 0 {
		return false
	}
	if state.TurnStart.IsZero() {
		return true
	}
	return !mh.now().Before(state.TurnStart.Add(timeout))
}

func trackTurn(state *MatchState, m *domain.Match) {
	state.Status = m.Status
	if m.GameState != nil {
		state.TurnStart = m.GameState.TurnStartTime
	}
}

type cardAction func(ctx context.Context, matchID, userID, cardID string) (*domain.Match, error)

func (mh *matchHandler) handleCardAction(ctx context.Context, state *MatchState, msg runtime.MatchData, action cardAction) error {
	var body actionMessage
	if data := msg.GetData(); len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return errBadPayload
		}
	}
	_, err := action(ctx, state.MatchID, msg.GetUserId(), body.CardID)
	return err
}

// deliver pushes events and then fresh per-player snapshots to the connected presences.
func (mh *matchHandler) deliver(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, m *domain.Match, events []wireEvent) {
	for _, ev := range events {
		mh.broadcastEvent(state, dispatcher, logger, ev)
	}
	if m == nil {
		return
	}
	trackTurn(state, m)
	for userID := range state.Presences {
		mh.sendSnapshot(state, dispatcher, logger, m, userID)
	}
	mh.updateLabel(state, dispatcher, logger, m)
}

// broadcastEvent sends one event to its recipients, or to everyone when it has none.
func (mh *matchHandler) broadcastEvent(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, ev wireEvent) {
	bytes, err := json.Marshal(clientEvent{Kind: ev.Kind, Payload: ev.Payload})
	if err != nil {
		logger.Error("Failed to marshal event %v: %v", ev.Kind, err)
		return
	}

	var recipients []runtime.Presence
	if len(ev.Recipients) > 0 {
		for _, uid := range ev.Recipients {
			if p, ok := state.Presences[uid]; ok {
				recipients = append(recipients, p)
			}
		}

		// A private event whose recipients are offline must not reach anyone else.
		if len(recipients) == 0 {
			return
		}
	}

	if err := dispatcher.BroadcastMessage(OpEvent, bytes, recipients, nil, true); err != nil {
		logger.Error("Failed to broadcast event %v: %v", ev.Kind, err)
	}
}

// sendSnapshot sends userID the match as that seat may see it.
func (mh *matchHandler) sendSnapshot(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, m *domain.Match, userID string) {
	presence, ok := state.Presences[userID]
	if !ok {
		return
	}
	viewer := ""
	if m.HasPlayer(userID) {
		viewer = userID
	}
	bytes, err := json.Marshal(m.ViewFor(viewer))
	if err != nil {
		logger.Error("Failed to marshal snapshot for %s: %v", userID, err)
		return
	}
	if err := dispatcher.BroadcastMessage(OpSnapshot, bytes, []runtime.Presence{presence}, nil, true); err != nil {
		logger.Error("Failed to send snapshot to %s: %v", userID, err)
	}
}

// sendError sends a rejection to a specific user.
func (mh *matchHandler) sendError(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, userID string, cause error) {
	msg := errorMessage{Code: int(errorCode(cause)), Message: "internal error"}
	if re, ok := toRuntimeError(cause).(*runtime.Error); ok {
		msg.Message = re.Message
	}
	bytes, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal error message: %v", err)
		return
	}

	presence, ok := state.Presences[userID]
	if !ok {
		logger.Warn("Cannot send error to %s: Presence not found", userID)
		return
	}

	if err := dispatcher.BroadcastMessage(OpError, bytes, []runtime.Presence{presence}, nil, true); err != nil {
		logger.Error("Failed to send error to %s: %v", userID, err)
	}
}

func (mh *matchHandler) updateLabel(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, m *domain.Match) {
	label, err := buildLabel(state.MatchID, m, state.Stake)
	if err != nil {
		logger.Error("UpdateLabel: Failed to marshal: %v", err)
		return
	}
	if err := dispatcher.MatchLabelUpdate(label); err != nil {
		logger.Error("UpdateLabel: Failed to update: %v", err)
	}
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	if matchState, ok := state.(*MatchState); ok {
		logger.Debug("MatchTerminate: Room for match %s terminated", matchState.MatchID)
	}
	return state
}

// MatchSignal relays updates committed outside the loop, for example through an RPC.
func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state, ""
	}

	var update signalUpdate
	if err := json.Unmarshal([]byte(data), &update); err != nil {
		logger.Warn("MatchSignal: Bad signal for %s: %v", matchState.MatchID, err)
		return matchState, "bad signal"
	}
	if update.Close {
		matchState.Closing = true
		return matchState, "ok"
	}

	m, err := mh.engine.Get(ctx, matchState.MatchID)
	if err != nil {
		logger.Error("MatchSignal: Failed to load match %s: %v", matchState.MatchID, err)
		m = nil
	}
	mh.deliver(matchState, dispatcher, logger, m, update.Events)
	return matchState, "ok"
}

func int64Param(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
