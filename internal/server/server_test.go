package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"edigate/internal/config"
	"edigate/internal/db"
	"edigate/internal/domain"
	"edigate/internal/engine"
	"edigate/internal/migrate"
	"edigate/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	return newTestServerAuth(t, AuthConfig{})
}

func newTestServerAuth(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	t.Setenv("EDIGATE_ASSISTANT_API_KEY", "")
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestIngestPurchaseOrderEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/850", map[string]any{
		"raw_input": `<po><poNumber>PO-12345</poNumber></po>`,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var out IngestResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.RunID == "" || out.DocType != "850" || out.Partner != "COSTCO" {
		t.Fatalf("response: %+v", out)
	}
	var payload domain.POPayload
	if err := json.Unmarshal(out.TargetPayload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OtherRefNum != "PO-12345" {
		t.Fatalf("payload: %+v", payload)
	}

	getRes, getData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs/"+out.RunID, nil, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get run status %d: %s", getRes.StatusCode, getData)
	}
	var rec domain.RunRecord
	if err := json.Unmarshal(getData, &rec); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if rec.Status != domain.RunStatusSuccess || rec.RawInput == "" {
		t.Fatalf("stored run: %+v", rec)
	}
}

func TestIngestMalformedReturnsFailedRunID(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/856", map[string]any{
		"raw_input": "not xml at all",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Error.Code != "ingest_failed" {
		t.Fatalf("code: %q", env.Error.Code)
	}
	runID, _ := env.Error.Details["run_id"].(string)
	if runID == "" {
		t.Fatalf("details must carry the failed run id: %v", env.Error.Details)
	}

	getRes, getData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs/"+runID, nil, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get run status %d: %s", getRes.StatusCode, getData)
	}
	var rec domain.RunRecord
	if err := json.Unmarshal(getData, &rec); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if rec.Status != domain.RunStatusFailed || rec.Error == nil {
		t.Fatalf("failed run not recorded: %+v", rec)
	}
}

func TestIngestRejectsEmptyInputAndUnknownType(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/850", map[string]any{
		"raw_input": "   ",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty input status %d: %s", res.StatusCode, data)
	}

	// Unknown doc types fail path validation before reaching the engine.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/810", map[string]any{
		"raw_input": "<invoice/>",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown doc type status %d: %s", res.StatusCode, data)
	}
}

func TestReplayEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/856", map[string]any{
		"raw_input": `<shipment>
  <shipmentIdentificationNumber>SHP-1</shipmentIdentificationNumber>
  <poNumber>PO-123</poNumber>
  <item><itemIdentifier>SKU-1</itemIdentifier><quantityShipped>10</quantityShipped></item>
</shipment>`,
	}, nil)
	var ingested IngestResponse
	if err := json.Unmarshal(data, &ingested); err != nil {
		t.Fatalf("unmarshal ingest: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/replay/"+ingested.RunID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("replay status %d: %s", res.StatusCode, data)
	}
	var out ReplayResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal replay: %v", err)
	}
	if out.RunID != ingested.RunID {
		t.Fatalf("run id: %q", out.RunID)
	}
	if !bytes.Equal(out.Stored.Canonical, out.Replayed.Canonical) {
		t.Fatalf("canonical drift:\nstored   %s\nreplayed %s", out.Stored.Canonical, out.Replayed.Canonical)
	}
	if !bytes.Equal(out.Stored.TargetPayload, out.Replayed.TargetPayload) {
		t.Fatalf("payload drift:\nstored   %s\nreplayed %s", out.Stored.TargetPayload, out.Replayed.TargetPayload)
	}
}

func TestReplayUnknownRun(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/replay/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Error.Code != "not_found" {
		t.Fatalf("code: %q", env.Error.Code)
	}
}

func TestListRunsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/850", map[string]any{
			"raw_input": `<po><poNumber>PO-1</poNumber></po>`,
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("seed ingest status %d: %s", res.StatusCode, data)
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var page RunListResponse
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page: items=%d cursor=%q", len(page.Items), page.NextCursor)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs?limit=2&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page status %d: %s", res.StatusCode, data)
	}
	var rest RunListResponse
	if err := json.Unmarshal(data, &rest); err != nil {
		t.Fatalf("unmarshal second page: %v", err)
	}
	if len(rest.Items) != 1 {
		t.Fatalf("second page: %+v", rest)
	}
	seen := map[string]bool{}
	for _, item := range append(page.Items, rest.Items...) {
		seen[item.RunID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("pages overlap or drop rows: %v", seen)
	}
}

func TestChatMapFallback(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/chat/map", map[string]any{
		"message": "How do I map an 850 purchase order?",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var out ChatMapResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(out.Reply, "otherRefNum") {
		t.Fatalf("reply: %q", out.Reply)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/chat/map", map[string]any{
		"message": "",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message status %d: %s", res.StatusCode, data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServerAuth(t, AuthConfig{RequireAuth: true})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status %d: %s", res.StatusCode, data)
	}

	// Health stays reachable for probes.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}

	secret := "edk_test_secret"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:      "key-1",
		ActorID: "integration-bot",
		Name:    "test",
		KeyHash: repo.HashAPIKey(secret),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs", nil, map[string]string{
		"X-Api-Key": secret,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs", nil, map[string]string{
		"X-Api-Key": "wrong",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key status %d: %s", res.StatusCode, data)
	}
}
