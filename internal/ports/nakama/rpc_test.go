package nakama

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"chinchon/internal/config"
	"chinchon/internal/domain"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/grpc/codes"
)

func newTestRPC(t *testing.T, balances map[string]int64) (*rpcHandler, *fakeNK) {
	t.Helper()
	nk := newFakeNK(balances)
	cfg := config.Default()
	cfg.StakeTiers = []config.StakeTier{
		{ID: "casual", StakeAmount: 100},
		{ID: "standard", StakeAmount: 500},
		{ID: "high", StakeAmount: 2500},
	}
	n := 0
	h := newRPCHandler(newTestEngine(t, nk), cfg)
	h.newID = func() string {
		n++
		return fmt.Sprintf("match-%d", n)
	}
	return h, nk
}

func decodeMatchResponse(t *testing.T, out string) MatchResponse {
	t.Helper()
	var resp MatchResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode response %q: %v", out, err)
	}
	return resp
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	re, ok := err.(*runtime.Error)
	if !ok {
		t.Fatalf("expected *runtime.Error with code %v, got %T %v", code, err, err)
	}
	if re.Code != int(code) {
		t.Fatalf("code = %d (%s), want %v", re.Code, re.Message, code)
	}
}

func TestRPCCreateAndJoin(t *testing.T) {
	h, nk := newTestRPC(t, map[string]int64{"host": 5000, "guest": 5000})

	out, err := h.rpcCreateMatch(userCtx("host"), noopLogger{}, nil, nk, `{"tier":"standard"}`)
	if err != nil {
		t.Fatalf("create_match: %v", err)
	}
	created := decodeMatchResponse(t, out)
	if created.MatchID != "match-1" || created.Channel == "" {
		t.Fatalf("unexpected create response %+v", created)
	}
	if created.View.StakeAmount != 500 || created.View.TargetPoints != 100 {
		t.Fatalf("stake/target = %d/%d, want 500/100", created.View.StakeAmount, created.View.TargetPoints)
	}

	out, err = h.rpcJoinMatch(userCtx("guest"), noopLogger{}, nil, nk, `{"match_id":"match-1"}`)
	if err != nil {
		t.Fatalf("join_match: %v", err)
	}
	joined := decodeMatchResponse(t, out)
	if joined.View.Status != domain.StatusPlaying || len(joined.View.Hand) != domain.HandSize {
		t.Fatalf("unexpected join view %+v", joined.View)
	}
	if nk.signalCount() == 0 {
		t.Fatalf("expected join to signal the room")
	}

	// A bystander sees no hand.
	out, err = h.rpcGetMatch(userCtx("someone"), noopLogger{}, nil, nk, `{"match_id":"match-1"}`)
	if err != nil {
		t.Fatalf("get_match: %v", err)
	}
	if v := decodeMatchResponse(t, out).View; len(v.Hand) != 0 || v.HandSizes["host"] != domain.HandSize {
		t.Fatalf("bystander view leaked or lost data: %+v", v)
	}
}

func TestRPCCreateRejections(t *testing.T) {
	h, nk := newTestRPC(t, map[string]int64{"host": 150})

	tests := []struct {
		name    string
		ctx     context.Context
		payload string
		want    codes.Code
	}{
		{name: "NoUser", ctx: context.Background(), payload: `{}`, want: codes.Unauthenticated},
		{name: "BadJSON", ctx: userCtx("host"), payload: `{`, want: codes.InvalidArgument},
		{name: "UnknownTier", ctx: userCtx("host"), payload: `{"tier":"vip"}`, want: codes.InvalidArgument},
		{name: "TooPoor", ctx: userCtx("host"), payload: `{"tier":"high"}`, want: codes.FailedPrecondition},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.rpcCreateMatch(tc.ctx, noopLogger{}, nil, nk, tc.payload)
			wantCode(t, err, tc.want)
		})
	}

	// The room opened for the rejected match is told to close.
	if nk.signalCount() != 1 {
		t.Fatalf("signals = %d, want 1 close signal", nk.signalCount())
	}
}

func TestRPCMatchAction(t *testing.T) {
	h, nk := newTestRPC(t, map[string]int64{"host": 5000, "guest": 5000})
	if _, err := h.rpcCreateMatch(userCtx("host"), noopLogger{}, nil, nk, `{"stake_amount":100}`); err != nil {
		t.Fatalf("create_match: %v", err)
	}
	if _, err := h.rpcJoinMatch(userCtx("guest"), noopLogger{}, nil, nk, `{"match_id":"match-1"}`); err != nil {
		t.Fatalf("join_match: %v", err)
	}

	_, err := h.rpcMatchAction(userCtx("guest"), noopLogger{}, nil, nk, `{"match_id":"match-1","action":"draw_stock"}`)
	wantCode(t, err, codes.FailedPrecondition)

	out, err := h.rpcMatchAction(userCtx("host"), noopLogger{}, nil, nk, `{"match_id":"match-1","action":"draw_discard"}`)
	if err != nil {
		t.Fatalf("draw_discard: %v", err)
	}
	view := decodeMatchResponse(t, out).View
	if len(view.Hand) != domain.MaxHandSize || view.Phase != domain.PhaseDiscard {
		t.Fatalf("after draw: %d cards, phase %s", len(view.Hand), view.Phase)
	}

	_, err = h.rpcMatchAction(userCtx("host"), noopLogger{}, nil, nk, `{"match_id":"match-1","action":"discard","card_id":"nope"}`)
	wantCode(t, err, codes.InvalidArgument)

	_, err = h.rpcMatchAction(userCtx("host"), noopLogger{}, nil, nk, `{"match_id":"match-1","action":"shuffle"}`)
	wantCode(t, err, codes.InvalidArgument)

	body, _ := json.Marshal(MatchActionRequest{MatchID: "match-1", Action: ActionDiscard, CardID: view.Hand[0].ID})
	out, err = h.rpcMatchAction(userCtx("host"), noopLogger{}, nil, nk, string(body))
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if v := decodeMatchResponse(t, out).View; v.CurrentTurn != "guest" {
		t.Fatalf("turn = %s, want guest", v.CurrentTurn)
	}
}

func TestRPCQuickMatch(t *testing.T) {
	h, nk := newTestRPC(t, map[string]int64{"host": 5000, "guest": 5000})

	out, err := h.rpcQuickMatch(userCtx("host"), noopLogger{}, nil, nk, `{"tier":"casual"}`)
	if err != nil {
		t.Fatalf("quick_match host: %v", err)
	}
	var first QuickMatchResponse
	_ = json.Unmarshal([]byte(out), &first)
	if !first.IsNew || first.View.StakeAmount != 100 {
		t.Fatalf("host should host a new casual match, got %+v", first)
	}

	// Asking again returns the match already hosted.
	out, _ = h.rpcQuickMatch(userCtx("host"), noopLogger{}, nil, nk, `{"tier":"casual"}`)
	var again QuickMatchResponse
	_ = json.Unmarshal([]byte(out), &again)
	if again.IsNew || again.MatchID != first.MatchID {
		t.Fatalf("expected the hosted match back, got %+v", again)
	}

	out, err = h.rpcQuickMatch(userCtx("guest"), noopLogger{}, nil, nk, `{"tier":"casual"}`)
	if err != nil {
		t.Fatalf("quick_match guest: %v", err)
	}
	var second QuickMatchResponse
	_ = json.Unmarshal([]byte(out), &second)
	if second.IsNew || second.MatchID != first.MatchID || second.View.Status != domain.StatusPlaying {
		t.Fatalf("guest should join the waiting match, got %+v", second)
	}
}

func TestRPCListMatches(t *testing.T) {
	h, nk := newTestRPC(t, map[string]int64{"a": 5000, "b": 5000, "c": 5000})
	for _, user := range []string{"a", "b"} {
		if _, err := h.rpcCreateMatch(userCtx(user), noopLogger{}, nil, nk, `{}`); err != nil {
			t.Fatalf("create_match: %v", err)
		}
	}
	if _, err := h.rpcJoinMatch(userCtx("c"), noopLogger{}, nil, nk, `{"match_id":"match-1"}`); err != nil {
		t.Fatalf("join_match: %v", err)
	}

	out, err := h.rpcListMatches(userCtx("a"), noopLogger{}, nil, nk, `{"status":"waiting"}`)
	if err != nil {
		t.Fatalf("list_matches: %v", err)
	}
	var resp ListMatchesResponse
	_ = json.Unmarshal([]byte(out), &resp)
	if len(resp.Matches) != 1 || resp.Matches[0].MatchID != "match-2" {
		t.Fatalf("waiting matches = %+v", resp.Matches)
	}
	if len(resp.Matches[0].Hand) != 0 {
		t.Fatalf("listing leaked a hand")
	}

	_, err = h.rpcListMatches(userCtx("a"), noopLogger{}, nil, nk, `{"status":"paused"}`)
	wantCode(t, err, codes.InvalidArgument)
}

func TestRPCAdminIsServerOnly(t *testing.T) {
	h, nk := newTestRPC(t, map[string]int64{"host": 5000, "guest": 5000})
	if _, err := h.rpcCreateMatch(userCtx("host"), noopLogger{}, nil, nk, `{}`); err != nil {
		t.Fatalf("create_match: %v", err)
	}
	if _, err := h.rpcJoinMatch(userCtx("guest"), noopLogger{}, nil, nk, `{"match_id":"match-1"}`); err != nil {
		t.Fatalf("join_match: %v", err)
	}

	_, err := h.rpcForceDefaultAction(userCtx("guest"), noopLogger{}, nil, nk, `{"match_id":"match-1"}`)
	wantCode(t, err, codes.PermissionDenied)

	out, err := h.rpcForceDefaultAction(context.Background(), noopLogger{}, nil, nk, `{"match_id":"match-1"}`)
	if err != nil {
		t.Fatalf("force default: %v", err)
	}
	if v := decodeMatchResponse(t, out).View; v.CurrentTurn != "guest" {
		t.Fatalf("turn = %s, want guest", v.CurrentTurn)
	}

	// Clearing a healthy match is a no-op.
	if _, err := h.rpcClearFault(context.Background(), noopLogger{}, nil, nk, `{"match_id":"match-1"}`); err != nil {
		t.Fatalf("clear fault: %v", err)
	}
	_, err = h.rpcClearFault(context.Background(), noopLogger{}, nil, nk, `{"match_id":"missing"}`)
	wantCode(t, err, codes.NotFound)
}
