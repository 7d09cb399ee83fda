package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	apimw "github.com/hamed0406/uptimed/internal/httpapi/middleware"
	"github.com/hamed0406/uptimed/internal/scheduler"
	"github.com/hamed0406/uptimed/internal/status"
)

// ---- test helpers ----

type fakeTargets struct {
	targets  []domain.Target
	excluded []scheduler.Excluded
	kicked   []domain.TargetID
}

func (f *fakeTargets) Targets() []domain.Target       { return f.targets }
func (f *fakeTargets) Excluded() []scheduler.Excluded { return f.excluded }
func (f *fakeTargets) Kick(id domain.TargetID) error {
	for _, t := range f.targets {
		if t.ID == id {
			f.kicked = append(f.kicked, id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", scheduler.ErrUnknownTarget, id)
}

func mkTarget(id string) domain.Target {
	return domain.Target{
		ID:               domain.TargetID(id),
		Kind:             domain.KindHTTP,
		Address:          "https://" + id + ".example.com",
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		AcceptStatus:     []domain.StatusRange{{Min: 200, Max: 399}},
	}
}

type fixture struct {
	store   *status.Store
	targets *fakeTargets
	hub     *Hub
	srv     *httptest.Server
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	hub := NewHub(log)
	store := status.New(log, nil, hub)
	ft := &fakeTargets{
		targets:  []domain.Target{mkTarget("web"), mkTarget("api")},
		excluded: []scheduler.Excluded{{Target: domain.Target{ID: "broken"}, Reason: "invalid target: empty address"}},
	}
	store.Register(ft.targets...)

	keys := apimw.Keys{PublicKeys: []string{"pub_test"}, AdminKeys: []string{"adm_test"}}
	// very high rate limits to avoid flakiness in tests
	h := NewServer(log, store, ft, keys, hub).Router(apimw.Limits{PerMinute: 10_000, Burst: 10_000})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{store: store, targets: ft, hub: hub, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, key string) (int, []byte) {
	t.Helper()
	req, _ := http.NewRequest(method, f.srv.URL+path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func (f *fixture) fail(t *testing.T, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, _, err := f.store.Record(context.Background(), domain.Outcome{
			TargetID: domain.TargetID(id), At: time.Now(), Class: domain.ClassTimeout, Error: "timed out",
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

// ---- tests ----

func TestStatusByID_AuthBeforeExistence(t *testing.T) {
	f := setup(t)

	cases := []struct {
		path, key string
		want      int
	}{
		{"/status/web", "", http.StatusUnauthorized},
		{"/status/web", "wrong", http.StatusUnauthorized},
		{"/status/nope", "", http.StatusUnauthorized},
		{"/status/nope", "pub_test", http.StatusNotFound},
		{"/status/web", "pub_test", http.StatusOK},
		{"/status/web", "adm_test", http.StatusOK},
	}
	for _, c := range cases {
		code, body := f.do(t, http.MethodGet, c.path, c.key)
		if code != c.want {
			t.Fatalf("GET %s key=%q: want %d got %d (%s)", c.path, c.key, c.want, code, body)
		}
		if code == http.StatusUnauthorized && strings.Contains(string(body), "web") {
			t.Fatalf("401 body leaked target data: %s", body)
		}
	}
}

func TestStatusByID_Body(t *testing.T) {
	f := setup(t)
	f.fail(t, "web", 3)

	code, body := f.do(t, http.MethodGet, "/status/web", "pub_test")
	if code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v["id"] != "web" || v["verdict"] != "DOWN" || v["last_error"] != "timed out" || v["last_class"] != "timeout" {
		t.Fatalf("unexpected body %s", body)
	}
	if v["last_transition"] == nil {
		t.Fatalf("last_transition should be set after a flip: %s", body)
	}
}

func TestListStatus_OrderedAndFiltered(t *testing.T) {
	f := setup(t)
	f.fail(t, "web", 3)

	code, body := f.do(t, http.MethodGet, "/status", "pub_test")
	if code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
	var all []StatusView
	if err := json.Unmarshal(body, &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 || all[0].ID != "api" || all[1].ID != "web" {
		t.Fatalf("want [api web], got %+v", all)
	}
	if all[0].Verdict != "UNKNOWN" || all[0].LastTransition != nil {
		t.Fatalf("never-flipped target should be UNKNOWN with null transition: %+v", all[0])
	}

	_, body = f.do(t, http.MethodGet, "/status?verdict=down", "pub_test")
	var down []StatusView
	_ = json.Unmarshal(body, &down)
	if len(down) != 1 || down[0].ID != "web" {
		t.Fatalf("filter: want [web], got %+v", down)
	}

	if code, _ := f.do(t, http.MethodGet, "/status?verdict=sideways", "pub_test"); code != http.StatusBadRequest {
		t.Fatalf("bad verdict filter: want 400, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/status", ""); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: want 401, got %d", code)
	}
}

func TestPublicEndpoints(t *testing.T) {
	f := setup(t)

	code, body := f.do(t, http.MethodGet, "/", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"version":"1"`) {
		t.Fatalf("banner: %d %s", code, body)
	}
	code, body = f.do(t, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz: %d %s", code, body)
	}
}

func TestAdminTargets(t *testing.T) {
	f := setup(t)

	if code, _ := f.do(t, http.MethodGet, "/admin/targets", "pub_test"); code != http.StatusForbidden {
		t.Fatalf("public key on admin route: want 403, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/admin/targets", ""); code != http.StatusUnauthorized {
		t.Fatalf("no key on admin route: want 401, got %d", code)
	}

	code, body := f.do(t, http.MethodGet, "/admin/targets", "adm_test")
	if code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
	var resp struct {
		Targets []struct {
			ID           string   `json:"id"`
			Interval     string   `json:"interval"`
			AcceptStatus []string `json:"accept_status"`
		} `json:"targets"`
		Excluded []struct {
			Reason string `json:"reason"`
		} `json:"excluded"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Targets) != 2 || resp.Targets[0].Interval != "30s" || resp.Targets[0].AcceptStatus[0] != "200-399" {
		t.Fatalf("unexpected targets %s", body)
	}
	if len(resp.Excluded) != 1 || resp.Excluded[0].Reason == "" {
		t.Fatalf("unexpected excluded %s", body)
	}
}

func TestAdminProbeNow(t *testing.T) {
	f := setup(t)

	if code, _ := f.do(t, http.MethodPost, "/admin/targets/web/probe", "adm_test"); code != http.StatusAccepted {
		t.Fatalf("want 202, got %d", code)
	}
	if len(f.targets.kicked) != 1 || f.targets.kicked[0] != "web" {
		t.Fatalf("kick not forwarded: %v", f.targets.kicked)
	}
	if code, _ := f.do(t, http.MethodPost, "/admin/targets/nope/probe", "adm_test"); code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/admin/targets/web/probe", "pub_test"); code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", code)
	}
}

func TestStream_SnapshotThenTransitions(t *testing.T) {
	f := setup(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/transitions"

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated stream should be refused with 401, err=%v", err)
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer pub_test")
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap streamMessage
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != "snapshot" || len(snap.States) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	f.fail(t, "api", 3)

	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read transition: %v", err)
	}
	if msg.Type != "transition" || msg.Transition == nil {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Transition.ID != "api" || msg.Transition.From != "UNKNOWN" || msg.Transition.To != "DOWN" {
		t.Fatalf("unexpected transition %+v", msg.Transition)
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(zap.NewNop())
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	for i := 0; i < streamBuffer; i++ {
		if err := h.Publish(domain.Transition{TargetID: "x"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	done := make(chan error, 1)
	go func() { done <- h.Publish(domain.Transition{TargetID: "x"}) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("full subscriber should be reported as dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if h.Subscribers() != 1 {
		t.Fatalf("want 1 subscriber, got %d", h.Subscribers())
	}
}

func TestHub_CloseEndsStreams(t *testing.T) {
	f := setup(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/transitions"
	hdr := http.Header{}
	hdr.Set("X-API-Key", "pub_test")

	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap streamMessage
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	f.hub.Close()
	f.hub.Close()

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("want going-away close after Hub.Close, got %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for f.hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber still registered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := f.hub.Publish(domain.Transition{TargetID: "api"}); err != nil {
		t.Fatalf("publish after close: %v", err)
	}

	// a stream opened after Close gets its snapshot and is then closed
	late, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial after close: %v", err)
	}
	defer late.Close()
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := late.ReadJSON(&snap); err != nil || snap.Type != "snapshot" {
		t.Fatalf("late snapshot: %+v %v", snap, err)
	}
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("late stream should be closed, got %v", err)
	}
}
