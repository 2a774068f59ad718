package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quantfleet/engine/internal/engine"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()

	cfg := types.DefaultEngineConfig()
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "engine.db")
	cfg.Server.EnableMetrics = true

	eng, err := engine.New(zap.NewNop(), cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	t.Cleanup(func() { eng.Stop(context.Background()) })

	ts := httptest.NewServer(NewServer(zap.NewNop(), eng).Handler())
	t.Cleanup(ts.Close)
	return ts, eng
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp
}

func testBotConfig(name string) types.BotConfig {
	cfg := types.DefaultBotConfig(name)
	cfg.Symbols = []string{"AAPL"}
	cfg.Strategies = []string{"trend"}
	return cfg
}

func TestBotLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	var snap types.BotSnapshot
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots",
		createBotRequest{ID: "bot-http", Config: testBotConfig("alpha")}, &snap)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if snap.ID != "bot-http" || snap.State != types.BotStateCreated {
		t.Fatalf("created snapshot = %+v", snap)
	}

	var summaries []types.BotSummary
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/bots", nil, &summaries)
	if len(summaries) != 1 || summaries[0].ID != "bot-http" {
		t.Fatalf("summaries = %+v", summaries)
	}

	var lc lifecycleResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots/bot-http/start", nil, &lc)
	if resp.StatusCode != http.StatusOK || !lc.Changed {
		t.Fatalf("start = %d %+v", resp.StatusCode, lc)
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots/bot-http/pause", nil, &lc)
	if lc.State != types.BotStatePaused {
		t.Errorf("state after pause = %s", lc.State)
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots/bot-http/resume", nil, &lc)
	if lc.State != types.BotStateRunning {
		t.Errorf("state after resume = %s", lc.State)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/bots/bot-http", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/bots/bot-http", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted status = %d", resp.StatusCode)
	}
}

func TestCreateBotErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t)

	// Missing symbols is a client error.
	bad := testBotConfig("bad")
	bad.Symbols = nil
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots", createBotRequest{Config: bad}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid config status = %d", resp.StatusCode)
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots",
		createBotRequest{ID: "dup", Config: testBotConfig("a")}, nil)
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots",
		createBotRequest{ID: "dup", Config: testBotConfig("b")}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate id status = %d", resp.StatusCode)
	}
}

func TestSubmitAndCancelOrder(t *testing.T) {
	ts, _ := newTestServer(t)

	var order types.Order
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/orders", orderRequest{
		Symbol:      "AAPL",
		Side:        types.OrderSideBuy,
		Quantity:    decimal.NewFromInt(1),
		AutoConfirm: true,
	}, &order)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	if order.ID == "" || order.Symbol != "AAPL" {
		t.Fatalf("order = %+v", order)
	}

	var cancel map[string]interface{}
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/v1/orders/%s/cancel", ts.URL, order.ID), nil, &cancel)
	if resp.StatusCode != http.StatusOK || cancel["canceled"] != true {
		t.Errorf("cancel = %d %v", resp.StatusCode, cancel)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/orders/nope/cancel", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel unknown status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/orders",
		orderRequest{Symbol: "AAPL", Side: "sideways", Quantity: decimal.NewFromInt(1)}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad side status = %d", resp.StatusCode)
	}
}

func TestComplianceEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	// The paper broker's account registers during the startup sync.
	var status map[string]interface{}
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/compliance/paper-1", nil, &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("compliance status = %d", resp.StatusCode)
	}
	if status["account_id"] != "paper-1" {
		t.Errorf("account_id = %v", status["account_id"])
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/compliance/ghost", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown account status = %d", resp.StatusCode)
	}
}

func TestOptimizerEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots",
		createBotRequest{ID: "bot-opt", Config: testBotConfig("opt")}, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/optimizer/bot-opt/enable",
		optimizerEnableRequest{Mode: "warp_speed"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad mode status = %d", resp.StatusCode)
	}

	var status map[string]interface{}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/optimizer/bot-opt/enable",
		optimizerEnableRequest{Mode: "moderate"}, &status)
	if resp.StatusCode != http.StatusOK || status["mode"] != "moderate" {
		t.Fatalf("enable = %d %v", resp.StatusCode, status)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/optimizer/bot-opt", nil, &status)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/optimizer/bot-opt/disable", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("disable = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/optimizer/bot-opt", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after disable = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/optimizer/ghost/enable",
		optimizerEnableRequest{Mode: "moderate"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("enable unknown bot status = %d", resp.StatusCode)
	}
}

func TestFeesReportFormats(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/reports/fees", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("json report status = %d", resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/api/v1/reports/fees?format=table")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("table content type = %q", ct)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/reports/fees?group_by=color", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad group_by status = %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	var status engine.Status
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", nil, &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if status.TradingMode != types.ModePaper {
		t.Errorf("trading mode = %s", status.TradingMode)
	}
	if len(status.Brokers) == 0 || len(status.DataSources) == 0 {
		t.Errorf("registries empty: %+v", status)
	}

	mResp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	mResp.Body.Close()
	if mResp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", mResp.StatusCode)
	}
}

func TestWebSocketEventStream(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := wsMessage{ID: "1", Type: "request", Method: "subscribe",
		Payload: json.RawMessage(`{"kinds":["bot_state_change"]}`)}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack.Type != "response" || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	// A fleet mutation publishes a bot_state_change the client must see.
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/bots",
		createBotRequest{ID: "bot-ws", Config: testBotConfig("ws")}, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wsMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("event: %v", err)
	}
	if ev.Type != "event" || ev.Method != "bot_state_change" {
		t.Fatalf("event = %+v", ev)
	}
	if !strings.Contains(string(ev.Payload), "bot-ws") {
		t.Errorf("payload = %s", ev.Payload)
	}

	// Unknown kinds are rejected without killing the connection.
	bad := wsMessage{ID: "2", Type: "request", Method: "subscribe",
		Payload: json.RawMessage(`{"kinds":["weather"]}`)}
	if err := conn.WriteJSON(bad); err != nil {
		t.Fatalf("bad subscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rej wsMessage
	if err := conn.ReadJSON(&rej); err != nil {
		t.Fatalf("rejection: %v", err)
	}
	if rej.Type != "error" {
		t.Errorf("rejection = %+v", rej)
	}
}
