package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"chinchon/internal/app"
	"chinchon/internal/domain"
	"chinchon/internal/lock"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const testCurrency = "gold"

type sentSignal struct {
	id   string
	data string
}

// fakeNK is an in-memory NakamaModule covering storage, wallets and match calls.
// Methods it does not override panic through the nil embedded interface.
type fakeNK struct {
	runtime.NakamaModule

	mu       sync.Mutex
	objects  map[string]*api.StorageObject
	version  int
	wallets  map[string]map[string]int64
	ledger   []map[string]interface{}
	signals  []sentSignal
	rooms    []*api.Match
	multiErr error
	reads    int
}

func newFakeNK(balances map[string]int64) *fakeNK {
	f := &fakeNK{
		objects: make(map[string]*api.StorageObject),
		wallets: make(map[string]map[string]int64),
	}
	for id, b := range balances {
		f.wallets[id] = map[string]int64{testCurrency: b}
	}
	return f
}

func objectKey(collection, userID, key string) string {
	return collection + "/" + userID + "/" + key
}

func (f *fakeNK) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	var out []*api.StorageObject
	for _, r := range reads {
		if obj, ok := f.objects[objectKey(r.Collection, r.UserID, r.Key)]; ok {
			out = append(out, proto.Clone(obj).(*api.StorageObject))
		}
	}
	return out, nil
}

func (f *fakeNK) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkVersionsLocked(writes); err != nil {
		return nil, err
	}
	return f.applyWritesLocked(writes), nil
}

func (f *fakeNK) StorageList(ctx context.Context, callerID, userID, collection string, limit int, cursor string) ([]*api.StorageObject, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*api.StorageObject
	for _, obj := range f.objects {
		if obj.Collection == collection && obj.UserId == userID {
			out = append(out, proto.Clone(obj).(*api.StorageObject))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, "", nil
}

func (f *fakeNK) MultiUpdate(ctx context.Context, accountUpdates []*runtime.AccountUpdate, storageWrites []*runtime.StorageWrite, storageDeletes []*runtime.StorageDelete, walletUpdates []*runtime.WalletUpdate, updateLedger bool) ([]*api.StorageObjectAck, []*runtime.WalletUpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.multiErr != nil {
		return nil, nil, f.multiErr
	}
	if err := f.checkVersionsLocked(storageWrites); err != nil {
		return nil, nil, err
	}
	for _, w := range walletUpdates {
		if err := f.checkWalletLocked(w.UserID, w.Changeset); err != nil {
			return nil, nil, err
		}
	}

	acks := f.applyWritesLocked(storageWrites)
	results := make([]*runtime.WalletUpdateResult, 0, len(walletUpdates))
	for _, w := range walletUpdates {
		prev, updated := f.applyWalletLocked(w.UserID, w.Changeset, w.Metadata)
		results = append(results, &runtime.WalletUpdateResult{UserID: w.UserID, Previous: prev, Updated: updated})
	}
	return acks, results, nil
}

func (f *fakeNK) AccountGetId(ctx context.Context, userID string) (*api.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wallet, ok := f.wallets[userID]
	if !ok {
		return nil, errors.New("account not found")
	}
	b, _ := json.Marshal(wallet)
	return &api.Account{User: &api.User{Id: userID}, Wallet: string(b)}, nil
}

func (f *fakeNK) WalletUpdate(ctx context.Context, userID string, changeset map[string]int64, metadata map[string]interface{}, updateLedger bool) (map[string]int64, map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkWalletLocked(userID, changeset); err != nil {
		return nil, nil, err
	}
	prev, updated := f.applyWalletLocked(userID, changeset, metadata)
	return updated, prev, nil
}

func (f *fakeNK) MatchCreate(ctx context.Context, module string, params map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("room-%d.node", len(f.rooms)+1)
	label, err := buildLabel(params[ParamMatchID].(string), nil, int64Param(params["stake"]))
	if err != nil {
		return "", err
	}
	f.rooms = append(f.rooms, &api.Match{MatchId: id, Authoritative: true, Label: wrapperspb.String(label)})
	return id, nil
}

func (f *fakeNK) MatchList(ctx context.Context, limit int, authoritative bool, label string, minSize, maxSize *int, query string) ([]*api.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Label queries are not evaluated; every room is a candidate.
	return append([]*api.Match(nil), f.rooms...), nil
}

func (f *fakeNK) MatchSignal(ctx context.Context, id string, data string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sentSignal{id: id, data: data})
	return "ok", nil
}

func (f *fakeNK) checkVersionsLocked(writes []*runtime.StorageWrite) error {
	for _, w := range writes {
		current, exists := f.objects[objectKey(w.Collection, w.UserID, w.Key)]
		switch {
		case w.Version == "":
		case w.Version == "*":
			if exists {
				return runtime.ErrStorageRejectedVersion
			}
		default:
			if !exists || current.Version != w.Version {
				return runtime.ErrStorageRejectedVersion
			}
		}
	}
	return nil
}

func (f *fakeNK) applyWritesLocked(writes []*runtime.StorageWrite) []*api.StorageObjectAck {
	acks := make([]*api.StorageObjectAck, 0, len(writes))
	for _, w := range writes {
		f.version++
		version := strconv.Itoa(f.version)
		f.objects[objectKey(w.Collection, w.UserID, w.Key)] = &api.StorageObject{
			Collection: w.Collection,
			Key:        w.Key,
			UserId:     w.UserID,
			Value:      w.Value,
			Version:    version,
		}
		acks = append(acks, &api.StorageObjectAck{Collection: w.Collection, Key: w.Key, UserId: w.UserID, Version: version})
	}
	return acks
}

func (f *fakeNK) checkWalletLocked(userID string, changeset map[string]int64) error {
	wallet, ok := f.wallets[userID]
	if !ok {
		return errors.New("account not found")
	}
	for k, v := range changeset {
		if wallet[k]+v < 0 {
			return errors.New("wallet update rejected negative value")
		}
	}
	return nil
}

func (f *fakeNK) applyWalletLocked(userID string, changeset map[string]int64, metadata map[string]interface{}) (map[string]int64, map[string]int64) {
	prev := make(map[string]int64, len(f.wallets[userID]))
	for k, v := range f.wallets[userID] {
		prev[k] = v
	}
	for k, v := range changeset {
		f.wallets[userID][k] += v
	}
	f.ledger = append(f.ledger, metadata)
	return prev, f.wallets[userID]
}

func (f *fakeNK) balance(userID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallets[userID][testCurrency]
}

func (f *fakeNK) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeNK) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

type sentMessage struct {
	opCode    int64
	data      []byte
	presences []runtime.Presence
}

// mockDispatcher records match dispatcher calls for assertions.
type mockDispatcher struct {
	messages     []sentMessage
	kicked       []runtime.Presence
	labelUpdates int
	lastLabel    string
}

func (md *mockDispatcher) BroadcastMessage(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	md.messages = append(md.messages, sentMessage{opCode: opCode, data: append([]byte(nil), data...), presences: presences})
	return nil
}

func (md *mockDispatcher) BroadcastMessageDeferred(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	return nil
}

func (md *mockDispatcher) MatchKick(presences []runtime.Presence) error {
	md.kicked = append(md.kicked, presences...)
	return nil
}

func (md *mockDispatcher) MatchLabelUpdate(label string) error {
	md.labelUpdates++
	md.lastLabel = label
	return nil
}

// sentTo returns the messages with opCode addressed to userID.
func (md *mockDispatcher) sentTo(opCode int64, userID string) []sentMessage {
	var out []sentMessage
	for _, m := range md.messages {
		if m.opCode != opCode {
			continue
		}
		for _, p := range m.presences {
			if p.GetUserId() == userID {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func (md *mockDispatcher) count(opCode int64) int {
	n := 0
	for _, m := range md.messages {
		if m.opCode == opCode {
			n++
		}
	}
	return n
}

// testPresence overrides the presence fields the handler reads.
type testPresence struct {
	runtime.Presence
	userID string
}

func (p testPresence) GetUserId() string    { return p.userID }
func (p testPresence) GetSessionId() string { return "session-" + p.userID }

// testMatchData is a client message.
type testMatchData struct {
	testPresence
	opCode int64
	data   []byte
}

func (d testMatchData) GetOpCode() int64      { return d.opCode }
func (d testMatchData) GetData() []byte       { return d.data }
func (d testMatchData) GetReliable() bool     { return true }
func (d testMatchData) GetReceiveTime() int64 { return 0 }

var testPolicy = domain.SettlementPolicy{CommissionRate: 0.05, PerfectClosureMultiplier: 2}

// newTestEngine wires an engine on the Nakama adapters over nk.
func newTestEngine(t *testing.T, nk *fakeNK) *app.Engine {
	t.Helper()
	return app.NewEngine(app.EngineDeps{
		Service:     app.NewService(rand.New(rand.NewSource(7)), testPolicy),
		Matches:     NewNakamaMatchStore(nk),
		Accounts:    NewNakamaAccountAdapter(nk, testCurrency),
		Settlements: NewNakamaEconomyAdapter(nk, testCurrency),
		Locker:      lock.NewLocal(),
		Publisher:   NewSignalPublisher(nk),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, app.EngineOptions{MaxConflictRetries: 3, TurnTimeout: 45 * time.Second})
}

func userCtx(userID string) context.Context {
	return context.WithValue(context.Background(), runtime.RUNTIME_CTX_USER_ID, userID)
}
