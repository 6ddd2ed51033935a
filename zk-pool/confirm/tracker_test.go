package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/chaintest"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/stretchr/testify/require"
)

type step struct {
	st  *chain.SignatureStatus
	err error
}

// scripted replays steps, repeating the last one.
type scripted struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scripted) GetSignatureStatuses(ctx context.Context, sigs ...string) ([]*chain.SignatureStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	if s.steps[i].err != nil {
		return nil, s.steps[i].err
	}
	return []*chain.SignatureStatus{s.steps[i].st}, nil
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func finalized(slot uint64) step {
	return step{st: &chain.SignatureStatus{Slot: slot, ConfirmationStatus: chain.CommitmentFinalized}}
}

func testConfig() Config {
	return Config{
		PollInterval:     5 * time.Millisecond,
		Timeout:          time.Second,
		RateLimitBackoff: 10,
		CacheTTL:         time.Minute,
	}
}

func TestConfirmShortCircuit(t *testing.T) {
	src := &scripted{steps: []step{
		{},
		{st: &chain.SignatureStatus{Slot: 3, ConfirmationStatus: chain.CommitmentConfirmed}},
		finalized(5),
	}}
	tr := NewTracker(src, testConfig())

	res, err := tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.True(t, res.Finalized())
	require.Equal(t, uint64(5), res.Slot)
	require.Equal(t, 3, src.count())
	require.True(t, tr.Known("sig"))

	res, err = tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.True(t, res.Finalized())
	require.Equal(t, uint64(5), res.Slot)
	require.Equal(t, 3, src.count())
}

func TestConfirmFinalizedSetExpires(t *testing.T) {
	src := &scripted{steps: []step{finalized(1)}}
	cfg := testConfig()
	cfg.CacheTTL = 20 * time.Millisecond
	tr := NewTracker(src, cfg)

	_, err := tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.True(t, tr.Known("sig"))
	time.Sleep(40 * time.Millisecond)
	require.False(t, tr.Known("sig"))
}

func TestConfirmOnChainFailure(t *testing.T) {
	src := &scripted{steps: []step{
		{st: &chain.SignatureStatus{Slot: 2, Err: json.RawMessage(`{"InstructionError":[0,{"Custom":6000}]}`)}},
	}}
	tr := NewTracker(src, testConfig())

	_, err := tr.Confirm(context.Background(), "sig")
	require.ErrorIs(t, err, types.ErrTransactionFailed)
	require.NotErrorIs(t, err, types.ErrDuplicateNullifier)
	require.False(t, tr.Known("sig"))
}

func TestConfirmSpentNullifierFailure(t *testing.T) {
	src := &scripted{steps: []step{
		{st: &chain.SignatureStatus{Slot: 2, Err: json.RawMessage(`{"InstructionError":[0,{"Custom":6001}]}`)}},
	}}
	tr := NewTracker(src, testConfig())

	_, err := tr.Confirm(context.Background(), "sig")
	require.ErrorIs(t, err, types.ErrTransactionFailed)
	require.ErrorIs(t, err, types.ErrDuplicateNullifier)
	require.False(t, tr.Known("sig"))
}

func TestConfirmTimeoutIsPending(t *testing.T) {
	src := &scripted{steps: []step{{}}}
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	tr := NewTracker(src, cfg)

	res, err := tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.Equal(t, StatusPending, res.Status)
	require.Greater(t, src.count(), 1)
}

func TestConfirmRateLimitWaitsLonger(t *testing.T) {
	src := &scripted{steps: []step{
		{err: types.ErrRateLimited},
		finalized(9),
	}}
	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RateLimitBackoff = 8
	tr := NewTracker(src, cfg)

	start := time.Now()
	res, err := tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.True(t, res.Finalized())
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 2, src.count())
}

func TestConfirmFatalPollError(t *testing.T) {
	src := &scripted{steps: []step{{err: errors.New("invalid signature")}}}
	tr := NewTracker(src, testConfig())

	_, err := tr.Confirm(context.Background(), "sig")
	require.EqualError(t, err, "invalid signature")
	require.Equal(t, 1, src.count())
}

func TestConfirmCancelled(t *testing.T) {
	src := &scripted{steps: []step{{}}}
	tr := NewTracker(src, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	res, err := tr.Confirm(ctx, "sig")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusPending, res.Status)
}

func TestConfirmThroughChainClient(t *testing.T) {
	node := chaintest.NewNode()
	defer node.Close()
	cfg := chain.DefaultExecutorConfig(node.URL)
	cfg.RequestsPerSecond = 1000
	exec, err := chain.NewExecutor(cfg)
	require.NoError(t, err)
	defer exec.Close()

	node.SetStatus("sig", &chaintest.Status{Slot: 77, ConfirmationStatus: chain.CommitmentFinalized})
	tr := NewTracker(chain.NewClient(exec, ""), testConfig())

	res, err := tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.Equal(t, uint64(77), res.Slot)
	require.Equal(t, 1, node.Calls("getSignatureStatuses"))

	_, err = tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.Equal(t, 1, node.Calls("getSignatureStatuses"))

	node.SetStatus("spent", chaintest.SpentNullifierStatus(78))
	_, err = tr.Confirm(context.Background(), "spent")
	require.ErrorIs(t, err, types.ErrDuplicateNullifier)
	require.ErrorIs(t, err, types.ErrTransactionFailed)
	require.False(t, tr.Known("spent"))
}

// wsNode answers one signatureSubscribe with the given notifications.
func wsNode(t *testing.T, notifications ...string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil || req.Method != "signatureSubscribe" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":7,"id":1}`))
		for _, n := range notifications {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(n))
		}
		// hold the socket open until the client leaves
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConfirmPush(t *testing.T) {
	srv := wsNode(t,
		`{"jsonrpc":"2.0","method":"signatureNotification","params":{"result":{"context":{"slot":41},"value":"receivedSignature"},"subscription":7}}`,
		`{"jsonrpc":"2.0","method":"signatureNotification","params":{"result":{"context":{"slot":42},"value":{"err":null}},"subscription":7}}`,
	)
	src := &scripted{steps: []step{{}}}
	cfg := testConfig()
	cfg.WebsocketURL = wsURL(srv)
	tr := NewTracker(src, cfg)

	res, err := tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.True(t, res.Finalized())
	require.Equal(t, uint64(42), res.Slot)
	// only the check right after subscribing
	require.Equal(t, 1, src.count())
	require.True(t, tr.Known("sig"))
}

func TestConfirmPushFailure(t *testing.T) {
	srv := wsNode(t,
		`{"jsonrpc":"2.0","method":"signatureNotification","params":{"result":{"context":{"slot":42},"value":{"err":{"InstructionError":[0,"InvalidArgument"]}}},"subscription":7}}`,
	)
	cfg := testConfig()
	cfg.WebsocketURL = wsURL(srv)
	tr := NewTracker(&scripted{steps: []step{{}}}, cfg)

	_, err := tr.Confirm(context.Background(), "sig")
	require.ErrorIs(t, err, types.ErrTransactionFailed)
}

func TestConfirmPushSpentNullifier(t *testing.T) {
	srv := wsNode(t,
		`{"jsonrpc":"2.0","method":"signatureNotification","params":{"result":{"context":{"slot":42},"value":{"err":{"InstructionError":[1,{"Custom":6001}]}}},"subscription":7}}`,
	)
	cfg := testConfig()
	cfg.WebsocketURL = wsURL(srv)
	tr := NewTracker(&scripted{steps: []step{{}}}, cfg)

	_, err := tr.Confirm(context.Background(), "sig")
	require.ErrorIs(t, err, types.ErrDuplicateNullifier)
}

func TestConfirmPushLandedBeforeSubscribe(t *testing.T) {
	srv := wsNode(t)
	src := &scripted{steps: []step{finalized(12)}}
	cfg := testConfig()
	cfg.WebsocketURL = wsURL(srv)
	tr := NewTracker(src, cfg)

	res, err := tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.Equal(t, uint64(12), res.Slot)
}

func TestConfirmPushFallsBackToPolling(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	src := &scripted{steps: []step{{}, finalized(3)}}
	cfg := testConfig()
	cfg.WebsocketURL = url
	tr := NewTracker(src, cfg)

	res, err := tr.Confirm(context.Background(), "sig")
	require.NoError(t, err)
	require.True(t, res.Finalized())
	require.Equal(t, 2, src.count())
}
