package nakama

const (
	// MatchNameChinchon is the authoritative match handler name registered with Nakama.
	MatchNameChinchon = "chinchon_match"

	// ParamMatchID carries the engine match id into MatchInit.
	ParamMatchID = "match_id"
)

// RPC ids.
const (
	RpcCreateMatch = "create_match"
	RpcJoinMatch   = "join_match"
	RpcQuickMatch  = "quick_match"
	RpcListMatches = "list_matches"
	RpcGetMatch    = "get_match"
	RpcMatchAction = "match_action"

	// Server-to-server only.
	RpcForceDefaultAction = "admin_force_default_action"
	RpcClearFault         = "admin_clear_fault"
)

// Op codes for client messages and server events.
const (
	// Client -> Server
	OpDrawStock   int64 = 1
	OpDrawDiscard int64 = 2
	OpDiscard     int64 = 3
	OpClose       int64 = 4

	// Server -> Client
	OpSnapshot int64 = 100 // per player view, sent privately
	OpEvent    int64 = 101
	OpError    int64 = 102
)

// Storage collections. Match documents and settlement markers are owned by the system user.
const (
	matchCollection      = "chinchon_matches"
	settlementCollection = "chinchon_settlements"
	statsCollection      = "chinchon_stats"
	statsKey             = "stats"

	systemUserID = "00000000-0000-0000-0000-000000000000"
)

// Match actions accepted by the match_action RPC.
const (
	ActionDrawStock   = "draw_stock"
	ActionDrawDiscard = "draw_discard"
	ActionDiscard     = "discard"
	ActionClose       = "close"
)
