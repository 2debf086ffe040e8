package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"chinchon/internal/app"
	"chinchon/internal/config"
	"chinchon/internal/domain"
	"chinchon/internal/ports"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/grpc/codes"
)

type rpcFunc func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error)

// rpcHandler exposes the engine operations as Nakama RPCs.
type rpcHandler struct {
	engine *app.Engine
	cfg    config.GameConfig
	newID  func() string
}

func newRPCHandler(engine *app.Engine, cfg config.GameConfig) *rpcHandler {
	return &rpcHandler{engine: engine, cfg: cfg, newID: uuid.NewString}
}

// RegisterRPCs registers Nakama RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer, h *rpcHandler) error {
	rpcs := []struct {
		id string
		fn rpcFunc
	}{
		{RpcCreateMatch, h.rpcCreateMatch},
		{RpcJoinMatch, h.rpcJoinMatch},
		{RpcQuickMatch, h.rpcQuickMatch},
		{RpcListMatches, h.rpcListMatches},
		{RpcGetMatch, h.rpcGetMatch},
		{RpcMatchAction, h.rpcMatchAction},
		{RpcForceDefaultAction, h.rpcForceDefaultAction},
		{RpcClearFault, h.rpcClearFault},
	}
	for _, r := range rpcs {
		if err := initializer.RegisterRpc(r.id, r.fn); err != nil {
			return fmt.Errorf("register rpc %s: %w", r.id, err)
		}
	}
	return nil
}

// CreateMatchRequest is the create_match payload. Tier wins over StakeAmount when set.
type CreateMatchRequest struct {
	TargetPoints int    `json:"target_points"`
	StakeAmount  int64  `json:"stake_amount"`
	Tier         string `json:"tier"`
}

// MatchRequest names a match.
type MatchRequest struct {
	MatchID string `json:"match_id"`
}

// MatchActionRequest is the match_action payload.
type MatchActionRequest struct {
	MatchID string `json:"match_id"`
	Action  string `json:"action"`
	CardID  string `json:"card_id"`
}

// ListMatchesRequest is the list_matches payload.
type ListMatchesRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

// MatchResponse carries the caller's view of a match and the realtime room to join.
type MatchResponse struct {
	MatchID string            `json:"match_id"`
	Channel string            `json:"channel,omitempty"`
	View    domain.PlayerView `json:"view"`
}

// ListMatchesResponse carries public views.
type ListMatchesResponse struct {
	Matches []domain.PlayerView `json:"matches"`
}

func (h *rpcHandler) rpcCreateMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userID == "" {
		return "", errUnauthenticated
	}

	var req CreateMatchRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	stake, err := h.resolveStake(req.Tier, req.StakeAmount)
	if err != nil {
		return "", err
	}
	if req.TargetPoints == 0 {
		req.TargetPoints = h.cfg.DefaultTargetPoints
	}

	m, err := h.createMatch(ctx, logger, nk, userID, req.TargetPoints, stake)
	if err != nil {
		return "", err
	}
	return encodeResponse(matchResponse(m, userID))
}

// createMatch opens the realtime room first so the stored match knows its channel.
func (h *rpcHandler) createMatch(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, hostID string, targetPoints int, stake int64) (*domain.Match, error) {
	matchID := h.newID()
	channel, err := nk.MatchCreate(ctx, MatchNameChinchon, map[string]interface{}{
		ParamMatchID: matchID,
		"stake":      stake,
	})
	if err != nil {
		logger.Error("createMatch [User:%s]: Failed to create room: %v", hostID, err)
		return nil, toRuntimeError(err)
	}

	m, err := h.engine.CreateMatch(ctx, app.CreateMatchRequest{
		ID:           matchID,
		HostID:       hostID,
		TargetPoints: targetPoints,
		StakeAmount:  stake,
		Channel:      channel,
	})
	if err != nil {
		logger.Warn("createMatch [User:%s]: Rejected: %v", hostID, err)
		closeRoom(ctx, logger, nk, channel, matchID)
		return nil, toRuntimeError(err)
	}
	logger.Info("createMatch [User:%s]: Created match %s in room %s", hostID, m.ID, channel)
	return m, nil
}

func (h *rpcHandler) rpcJoinMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userID == "" {
		return "", errUnauthenticated
	}
	var req MatchRequest
	if err := decodePayload(payload, &req); err != nil || req.MatchID == "" {
		return "", errBadPayload
	}

	m, err := h.engine.Join(ctx, req.MatchID, userID)
	if err != nil {
		logger.Warn("rpcJoinMatch [User:%s]: Join %s rejected: %v", userID, req.MatchID, err)
		return "", toRuntimeError(err)
	}
	return encodeResponse(matchResponse(m, userID))
}

func (h *rpcHandler) rpcGetMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	var req MatchRequest
	if err := decodePayload(payload, &req); err != nil || req.MatchID == "" {
		return "", errBadPayload
	}

	m, err := h.engine.Get(ctx, req.MatchID)
	if err != nil {
		return "", toRuntimeError(err)
	}
	return encodeResponse(matchResponse(m, userID))
}

func (h *rpcHandler) rpcListMatches(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req ListMatchesRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	switch domain.Status(req.Status) {
	case "", domain.StatusWaiting, domain.StatusPlaying, domain.StatusFinished:
	default:
		return "", runtime.NewError("unknown status "+req.Status, int(codes.InvalidArgument))
	}

	matches, err := h.engine.List(ctx, ports.MatchFilter{Status: domain.Status(req.Status), Limit: req.Limit})
	if err != nil {
		logger.Error("rpcListMatches: %v", err)
		return "", toRuntimeError(err)
	}
	resp := ListMatchesResponse{Matches: make([]domain.PlayerView, 0, len(matches))}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, m.ViewFor(""))
	}
	return encodeResponse(resp)
}

func (h *rpcHandler) rpcMatchAction(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userID == "" {
		return "", errUnauthenticated
	}
	var req MatchActionRequest
	if err := decodePayload(payload, &req); err != nil || req.MatchID == "" {
		return "", errBadPayload
	}

	var (
		m   *domain.Match
		err error
	)
	switch req.Action {
	case ActionDrawStock:
		m, err = h.engine.DrawStock(ctx, req.MatchID, userID)
	case ActionDrawDiscard:
		m, err = h.engine.DrawDiscard(ctx, req.MatchID, userID)
	case ActionDiscard:
		m, err = h.engine.Discard(ctx, req.MatchID, userID, req.CardID)
	case ActionClose:
		m, err = h.engine.Close(ctx, req.MatchID, userID, req.CardID)
	default:
		return "", runtime.NewError("unknown action "+req.Action, int(codes.InvalidArgument))
	}
	if err != nil {
		logger.Warn("rpcMatchAction [User:%s]: %s on %s rejected: %v", userID, req.Action, req.MatchID, err)
		return "", toRuntimeError(err)
	}
	return encodeResponse(matchResponse(m, userID))
}

func (h *rpcHandler) rpcForceDefaultAction(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.adminAction(ctx, logger, payload, "force_default_action", h.engine.ForceDefaultAction)
}

func (h *rpcHandler) rpcClearFault(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.adminAction(ctx, logger, payload, "clear_fault", h.engine.ClearFault)
}

func (h *rpcHandler) adminAction(ctx context.Context, logger runtime.Logger, payload, name string, fn func(context.Context, string) (*domain.Match, error)) (string, error) {
	if userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string); userID != "" {
		return "", errServerOnly
	}
	var req MatchRequest
	if err := decodePayload(payload, &req); err != nil || req.MatchID == "" {
		return "", errBadPayload
	}
	m, err := fn(ctx, req.MatchID)
	if err != nil {
		logger.Warn("admin %s on %s failed: %v", name, req.MatchID, err)
		return "", toRuntimeError(err)
	}
	logger.Info("admin %s applied to %s", name, req.MatchID)
	return encodeResponse(matchResponse(m, ""))
}

func (h *rpcHandler) resolveStake(tier string, amount int64) (int64, error) {
	if tier == "" && amount == 0 {
		tier = h.cfg.DefaultTier
	}
	if tier == "" {
		return amount, nil
	}
	for _, t := range h.cfg.StakeTiers {
		if t.ID == tier {
			return t.StakeAmount, nil
		}
	}
	return 0, runtime.NewError("unknown stake tier "+tier, int(codes.InvalidArgument))
}

// matchResponse shows a seated caller their hand and everyone else the public view.
func matchResponse(m *domain.Match, userID string) MatchResponse {
	viewer := ""
	if m.HasPlayer(userID) {
		viewer = userID
	}
	return MatchResponse{MatchID: m.ID, Channel: m.Channel, View: m.ViewFor(viewer)}
}

func closeRoom(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, channel, matchID string) {
	b, _ := json.Marshal(signalUpdate{MatchID: matchID, Close: true})
	if _, err := nk.MatchSignal(ctx, channel, string(b)); err != nil {
		logger.Warn("Failed to close room %s: %v", channel, err)
	}
}

func decodePayload(payload string, v interface{}) error {
	if payload == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return errBadPayload
	}
	return nil
}

func encodeResponse(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", runtime.NewError("failed to encode response", int(codes.Internal))
	}
	return string(b), nil
}

// isSeatUnavailable reports errors after which quick match moves on to the next candidate.
func isSeatUnavailable(err error) bool {
	return errors.Is(err, domain.ErrMatchFull) ||
		errors.Is(err, domain.ErrIllegalAction) ||
		errors.Is(err, domain.ErrMatchNotFound) ||
		errors.Is(err, domain.ErrMatchFaulted) ||
		errors.Is(err, ports.ErrConflict)
}
