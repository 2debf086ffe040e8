package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/rtapi"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	ServerKey = "defaultkey"
	Port      = 7350
)

// Server op codes, mirrored from the module.
const (
	OpDrawStock   int64 = 1
	OpDrawDiscard int64 = 2
	OpDiscard     int64 = 3
	OpClose       int64 = 4
	OpSnapshot    int64 = 100
	OpEvent       int64 = 101
	OpError       int64 = 102
)

var (
	marshaler   = protojson.MarshalOptions{UseProtoNames: true}
	unmarshaler = protojson.UnmarshalOptions{DiscardUnknown: true}
)

// serverHost returns the Nakama host under test, skipping the test when none is configured.
func serverHost(t *testing.T) string {
	t.Helper()
	host := os.Getenv("CHINCHON_NAKAMA_HOST")
	if host == "" {
		t.Skip("CHINCHON_NAKAMA_HOST not set")
	}
	return host
}

type TestClient struct {
	BaseURL string
	Token   string
	UserID  string
	Conn    *websocket.Conn

	data chan *rtapi.MatchData
	acks chan *rtapi.Envelope
	http *http.Client
}

func NewTestClient(t *testing.T) *TestClient {
	t.Helper()
	host := serverHost(t)
	tc := &TestClient{
		BaseURL: fmt.Sprintf("http://%s:%d", host, Port),
		data:    make(chan *rtapi.MatchData, 64),
		acks:    make(chan *rtapi.Envelope, 16),
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	// Create unique ID
	deviceID := fmt.Sprintf("chinchon_device_%d", time.Now().UnixNano())

	var session api.Session
	body, _ := json.Marshal(map[string]string{"id": deviceID})
	tc.do(t, "/v2/account/authenticate/device?create=true", body, func(req *http.Request) {
		req.SetBasicAuth(ServerKey, "")
	}, &session)
	tc.Token = session.GetToken()

	var account api.Account
	tc.do(t, "/v2/account", nil, nil, &account)
	tc.UserID = account.GetUser().GetId()

	wsURL := fmt.Sprintf("ws://%s:%d/ws?lang=en&status=true&token=%s", host, Port, url.QueryEscape(tc.Token))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect socket: %v", err)
	}
	tc.Conn = conn
	go tc.readLoop()
	return tc
}

func (tc *TestClient) Close() {
	if tc.Conn != nil {
		tc.Conn.Close()
	}
}

// do sends a REST request and decodes the protobuf JSON reply into out.
// A nil body issues a GET.
func (tc *TestClient) do(t *testing.T, path string, body []byte, auth func(*http.Request), out proto.Message) {
	t.Helper()
	method := http.MethodGet
	if body != nil {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, tc.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		auth(req)
	} else {
		req.Header.Set("Authorization", "Bearer "+tc.Token)
	}

	resp, err := tc.http.Do(req)
	if err != nil {
		t.Fatalf("%s failed: %v", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s returned %d: %s", path, resp.StatusCode, raw)
	}
	if err := unmarshaler.Unmarshal(raw, out); err != nil {
		t.Fatalf("%s returned %q: %v", path, raw, err)
	}
}

func (tc *TestClient) readLoop() {
	for {
		_, raw, err := tc.Conn.ReadMessage()
		if err != nil {
			close(tc.data)
			return
		}
		var env rtapi.Envelope
		if err := unmarshaler.Unmarshal(raw, &env); err != nil {
			continue
		}
		if md := env.GetMatchData(); md != nil {
			tc.data <- md
			continue
		}
		if env.GetCid() != "" {
			tc.acks <- &env
		}
	}
}

// send writes one envelope and, when cid is set, waits for the reply carrying it.
func (tc *TestClient) send(t *testing.T, env *rtapi.Envelope) *rtapi.Envelope {
	t.Helper()
	raw, err := marshaler.Marshal(env)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	if err := tc.Conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	if env.GetCid() == "" {
		return nil
	}
	select {
	case reply := <-tc.acks:
		if e := reply.GetError(); e != nil {
			t.Fatalf("socket error %d: %s", e.GetCode(), e.GetMessage())
		}
		return reply
	case <-time.After(5 * time.Second):
		t.Fatalf("no reply to %s", env.GetCid())
		return nil
	}
}

// MatchResponse is the reply of the match RPCs.
type MatchResponse struct {
	MatchID string          `json:"match_id"`
	Channel string          `json:"channel"`
	View    json.RawMessage `json:"view"`
}

// CallRPC invokes id and decodes the match response.
func (tc *TestClient) CallRPC(t *testing.T, id, payload string) MatchResponse {
	t.Helper()
	// The REST gateway takes the payload as a JSON string.
	body, _ := json.Marshal(payload)
	var rpc api.Rpc
	tc.do(t, "/v2/rpc/"+url.PathEscape(id), body, nil, &rpc)

	var resp MatchResponse
	if err := json.Unmarshal([]byte(rpc.GetPayload()), &resp); err != nil {
		t.Fatalf("RPC %s returned %q: %v", id, rpc.GetPayload(), err)
	}
	return resp
}

// JoinRoom joins the realtime room of a match.
func (tc *TestClient) JoinRoom(t *testing.T, channel string) {
	t.Helper()
	tc.send(t, &rtapi.Envelope{
		Cid: "join",
		Message: &rtapi.Envelope_MatchJoin{MatchJoin: &rtapi.MatchJoin{
			Id: &rtapi.MatchJoin_MatchId{MatchId: channel},
		}},
	})
}

// SendMatchState sends an op code to the room.
func (tc *TestClient) SendMatchState(t *testing.T, channel string, opCode int64, data []byte) {
	t.Helper()
	tc.send(t, &rtapi.Envelope{
		Message: &rtapi.Envelope_MatchDataSend{MatchDataSend: &rtapi.MatchDataSend{
			MatchId:  channel,
			OpCode:   opCode,
			Data:     data,
			Reliable: true,
		}},
	})
}

// WaitForOpCode waits for a message with opCode from the socket.
func (tc *TestClient) WaitForOpCode(t *testing.T, opCode int64, timeout time.Duration) *rtapi.MatchData {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case data, ok := <-tc.data:
			if !ok {
				t.Fatalf("socket closed waiting for OpCode %d", opCode)
			}
			if data.GetOpCode() == opCode {
				return data
			}
		case <-deadline:
			t.Fatalf("Timeout waiting for OpCode %d", opCode)
			return nil
		}
	}
}
