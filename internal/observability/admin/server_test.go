package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skalli/internal/cache"
	"skalli/internal/entity"
	"skalli/internal/tagging"
	"skalli/internal/task/scheduler"
	logx "skalli/pkg/logx"
)

type fakeTags struct{}

func (fakeTags) Tags(t entity.Type) []tagging.TagCount {
	if t != entity.TypeProject {
		return nil
	}
	return []tagging.TagCount{{Name: "aaa", Count: 2}, {Name: "most", Count: 3}, {Name: "tag1", Count: 1}}
}

func (fakeTags) MostPopularN(t entity.Type, n int) []tagging.TagCount {
	if t != entity.TypeProject {
		return nil
	}
	all := []tagging.TagCount{{Name: "most", Count: 3}, {Name: "aaa", Count: 2}, {Name: "tag1", Count: 1}}
	if n >= 0 && n < len(all) {
		return all[:n]
	}
	return all
}

type fakeScheduler struct{}

func (fakeScheduler) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Enabled: true, Started: true, Timezone: "UTC"}
}

type fakeCache struct{}

func (fakeCache) CacheStats() cache.Stats {
	return cache.Stats{Hits: 4, Misses: 1, Size: 2, Capacity: 10}
}

func newTestService(cfg Config) *Service {
	return New(cfg, Deps{Tags: fakeTags{}, Scheduler: fakeScheduler{}, Cache: fakeCache{}}, logx.Nop())
}

func get(t *testing.T, h http.Handler, target string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTagsEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestService(Config{}).Handler(Config{})

	cases := []struct {
		target string
		code   int
		want   []string
	}{
		{"/v1/tags?n=2", http.StatusOK, []string{"most", "aaa"}},
		{"/v1/tags?type=project", http.StatusOK, []string{"most", "aaa", "tag1"}},
		{"/v1/tags?order=name&n=1", http.StatusOK, []string{"aaa"}},
		{"/v1/tags?type=unknown", http.StatusOK, []string{}},
		{"/v1/tags?n=-1", http.StatusBadRequest, nil},
		{"/v1/tags?order=random", http.StatusBadRequest, nil},
	}
	for _, tc := range cases {
		rec := get(t, h, tc.target)
		if rec.Code != tc.code {
			t.Fatalf("%s: code = %d, want %d", tc.target, rec.Code, tc.code)
		}
		if tc.code != http.StatusOK {
			continue
		}
		var got []tagging.TagCount
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("%s: decode: %v", tc.target, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %+v, want %v", tc.target, got, tc.want)
		}
		for i, name := range tc.want {
			if got[i].Name != name {
				t.Fatalf("%s: [%d] = %q, want %q", tc.target, i, got[i].Name, name)
			}
		}
	}
}

func TestSchedulerAndCacheEndpoints(t *testing.T) {
	t.Parallel()

	h := newTestService(Config{}).Handler(Config{})

	rec := get(t, h, "/v1/scheduler")
	var snap scheduler.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil || !snap.Started || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v, %v", snap, err)
	}

	rec = get(t, h, "/v1/cache")
	var st cache.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.Hits != 4 || st.Capacity != 10 {
		t.Fatalf("stats = %+v, %v", st, err)
	}

	missing := New(Config{}, Deps{}, logx.Nop()).Handler(Config{})
	if rec := get(t, missing, "/v1/cache"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	cfg := Config{Token: "s3cret"}
	h := newTestService(cfg).Handler(cfg)

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("query token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("bearer token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz", "Authorization", "Bearer s3cre"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bearer token prefix: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=s3cret2"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("longer query token: code = %d", rec.Code)
	}
	if !tokenEqual("abc", "abc") || tokenEqual("abc", "abd") || tokenEqual("", "abc") {
		t.Fatal("tokenEqual mismatch")
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	off := newTestService(Config{}).Handler(Config{})
	if rec := get(t, off, "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: code = %d", rec.Code)
	}
	on := newTestService(Config{}).Handler(Config{Pprof: true})
	if rec := get(t, on, "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled: code = %d", rec.Code)
	}
}

func TestServeAndStop(t *testing.T) {
	s := newTestService(Config{Enabled: true, Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		addr = s.Addr()
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("server never bound")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("Addr after Stop = %q", s.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
