package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/grpc/codes"
)

const quickMatchCandidates = 10

// QuickMatchRequest picks the stake tier to play at.
type QuickMatchRequest struct {
	Tier string `json:"tier"`
}

// QuickMatchResponse is the payload returned to clients when requesting a match at a stake tier.
type QuickMatchResponse struct {
	MatchResponse
	IsNew bool `json:"is_new"`
}

// rpcQuickMatch seats the caller in a waiting match of the requested tier, or hosts a new one.
func (h *rpcHandler) rpcQuickMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userID == "" {
		return "", errUnauthenticated
	}
	var req QuickMatchRequest
	if err := decodePayload(payload, &req); err != nil {
		return "", err
	}
	// Unknown tiers fall back to the default one.
	stake, ok := h.cfg.StakeForTier(req.Tier)
	if !ok {
		return "", runtime.NewError("no stake tiers configured", int(codes.FailedPrecondition))
	}

	// Find waiting rooms of our game at the same stake.
	query := fmt.Sprintf("+label.%s:%s +label.%s:waiting +label.%s:>=1 +label.%s:%d",
		MatchLabelKey_Game, labelGame,
		MatchLabelKey_Status,
		MatchLabelKey_Open,
		MatchLabelKey_Stake, stake)
	minSize := 0
	maxSize := 2

	rooms, err := nk.MatchList(ctx, quickMatchCandidates, true, "", &minSize, &maxSize, query)
	if err != nil {
		logger.Error("rpcQuickMatch [User:%s]: MatchList error: %v", userID, err)
		return "", toRuntimeError(err)
	}

	for _, room := range rooms {
		var label map[string]interface{}
		if err := json.Unmarshal([]byte(room.GetLabel().GetValue()), &label); err != nil {
			continue
		}
		matchID, _ := label[MatchLabelKey_Match].(string)
		if matchID == "" {
			continue
		}

		existing, err := h.engine.Get(ctx, matchID)
		if err != nil {
			continue
		}
		if existing.HasPlayer(userID) {
			return encodeResponse(QuickMatchResponse{MatchResponse: matchResponse(existing, userID)})
		}

		m, err := h.engine.Join(ctx, matchID, userID)
		if err == nil {
			logger.Info("rpcQuickMatch [User:%s]: Joined match %s", userID, matchID)
			return encodeResponse(QuickMatchResponse{MatchResponse: matchResponse(m, userID)})
		}
		if !isSeatUnavailable(err) {
			return "", toRuntimeError(err)
		}
	}

	m, err := h.createMatch(ctx, logger, nk, userID, h.cfg.DefaultTargetPoints, stake)
	if err != nil {
		return "", err
	}
	return encodeResponse(QuickMatchResponse{MatchResponse: matchResponse(m, userID), IsNew: true})
}
