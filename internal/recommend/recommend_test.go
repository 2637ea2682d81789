package recommend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brightlane/recoguard/internal/breaker"
	"github.com/brightlane/recoguard/internal/clock"
	"github.com/brightlane/recoguard/internal/config"
	"github.com/brightlane/recoguard/internal/loadbalancer"
	"github.com/brightlane/recoguard/internal/outbound"
	"github.com/brightlane/recoguard/internal/trendingcache"
)

func newPipeline(t *testing.T, userProfileSrv, contentSrv, trendingSrv *httptest.Server) *Pipeline {
	t.Helper()
	log := zap.NewNop().Sugar()
	caller := outbound.New(log)
	fc := clock.NewFakeClock(time.Unix(0, 0))

	up := func(srv *httptest.Server, breakerName string, path string) Upstream {
		u := Upstream{
			Balancer: loadbalancer.New("round_robin", []string{srv.URL}),
			Deadline: 3 * time.Second,
			Path:     path,
		}
		if breakerName != "" {
			u.Breaker = breaker.New(breaker.Config{Name: breakerName}, fc)
		}
		return u
	}

	userProfile := up(userProfileSrv, "user-profile", "/users")
	content := up(contentSrv, "content", "/movies")
	trending := Upstream{
		Balancer: loadbalancer.New("round_robin", []string{trendingSrv.URL}),
		Deadline: 5 * time.Second,
		Path:     "/trending",
	}

	cache := trendingcache.New(config.TrendingCacheConfig{})
	return New(caller, userProfile, content, trending, cache, log)
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func downHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusInternalServerError)
}

func TestRecommendHappyPath(t *testing.T) {
	userProfileSrv := httptest.NewServer(jsonHandler(`{"userId":"u1","preferences":["Action","Sci-Fi"]}`))
	defer userProfileSrv.Close()
	contentSrv := httptest.NewServer(jsonHandler(`{"movies":[{"movieId":102,"title":"The Dark Knight","genre":"Action"}]}`))
	defer contentSrv.Close()
	trendingSrv := httptest.NewServer(downHandler)
	defer trendingSrv.Close()

	p := newPipeline(t, userProfileSrv, contentSrv, trendingSrv)
	resp := p.Recommend(context.Background(), "u1")

	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if len(resp.FallbacksTriggered) != 0 {
		t.Fatalf("fallbacks = %v, want none", resp.FallbacksTriggered)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"recommendations":[{"movieId":102,"title":"The Dark Knight","genre":"Action"}],"userPreferences":{"preferences":["Action","Sci-Fi"],"userId":"u1"}}`
	assertJSONEqual(t, body, []byte(want))
}

func assertJSONEqual(t *testing.T, got, want []byte) {
	t.Helper()
	var gotVal, wantVal any
	if err := json.Unmarshal(got, &gotVal); err != nil {
		t.Fatalf("got is not valid JSON: %v", err)
	}
	if err := json.Unmarshal(want, &wantVal); err != nil {
		t.Fatalf("want is not valid JSON: %v", err)
	}
	if !reflect.DeepEqual(gotVal, wantVal) {
		t.Fatalf("json mismatch:\n got:  %s\n want: %s", got, want)
	}
}

func TestRecommendUserProfileFallback(t *testing.T) {
	userProfileSrv := httptest.NewServer(downHandler)
	defer userProfileSrv.Close()
	contentSrv := httptest.NewServer(jsonHandler(`{"movies":[{"movieId":5,"title":"Comedy Night","genre":"Comedy"}]}`))
	defer contentSrv.Close()
	trendingSrv := httptest.NewServer(downHandler)
	defer trendingSrv.Close()

	p := newPipeline(t, userProfileSrv, contentSrv, trendingSrv)
	resp := p.Recommend(context.Background(), "u1")

	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if got := resp.fallbackTriggeredFor(); got != "user-profile-service" {
		t.Fatalf("fallback_triggered_for = %q, want user-profile-service", got)
	}
	if resp.Preferences[0] != "Comedy" || resp.Preferences[1] != "Family" {
		t.Fatalf("preferences = %v, want defaults", resp.Preferences)
	}
}

func TestRecommendTrendingFallback(t *testing.T) {
	userProfileSrv := httptest.NewServer(downHandler)
	defer userProfileSrv.Close()
	contentSrv := httptest.NewServer(downHandler)
	defer contentSrv.Close()
	trendingSrv := httptest.NewServer(jsonHandler(`{"trending":[{"movieId":1,"title":"Old Reliable","genre":"Drama"}]}`))
	defer trendingSrv.Close()

	p := newPipeline(t, userProfileSrv, contentSrv, trendingSrv)
	resp := p.Recommend(context.Background(), "u1")

	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if resp.Message != degradedMessage {
		t.Fatalf("message = %q", resp.Message)
	}
	if got := resp.fallbackTriggeredFor(); got != "user-profile-service, content-service" {
		t.Fatalf("fallback_triggered_for = %q", got)
	}
	if len(resp.Trending) != 1 || resp.Trending[0].Title != "Old Reliable" {
		t.Fatalf("trending = %v", resp.Trending)
	}
}

func TestRecommendAllDown(t *testing.T) {
	userProfileSrv := httptest.NewServer(downHandler)
	defer userProfileSrv.Close()
	contentSrv := httptest.NewServer(downHandler)
	defer contentSrv.Close()
	trendingSrv := httptest.NewServer(downHandler)
	defer trendingSrv.Close()

	p := newPipeline(t, userProfileSrv, contentSrv, trendingSrv)
	resp := p.Recommend(context.Background(), "u1")

	if resp.Status != 503 {
		t.Fatalf("status = %d, want 503", resp.Status)
	}
	if resp.Error != allDownMessage {
		t.Fatalf("error = %q", resp.Error)
	}
	if got := resp.fallbackTriggeredFor(); got != "user-profile-service, content-service" {
		t.Fatalf("fallback_triggered_for = %q", got)
	}
}

// A cached trending payload from a prior success answers Step C even when
// the live trending call also fails on the second request.
func TestRecommendTrendingCacheHit(t *testing.T) {
	userProfileSrv := httptest.NewServer(downHandler)
	defer userProfileSrv.Close()
	contentSrv := httptest.NewServer(downHandler)
	defer contentSrv.Close()

	up := true
	trendingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if up {
			jsonHandler(`{"trending":[{"movieId":9,"title":"Cached Hit","genre":"Action"}]}`)(w, r)
			return
		}
		downHandler(w, r)
	}))
	defer trendingSrv.Close()

	p := newPipeline(t, userProfileSrv, contentSrv, trendingSrv)

	first := p.Recommend(context.Background(), "u1")
	if first.Status != 200 {
		t.Fatalf("first request status = %d", first.Status)
	}

	up = false
	second := p.Recommend(context.Background(), "u1")
	if second.Status != 200 {
		t.Fatalf("second request status = %d, want cache hit 200", second.Status)
	}
	if len(second.Trending) != 1 || second.Trending[0].Title != "Cached Hit" {
		t.Fatalf("trending = %v, want cached payload", second.Trending)
	}
}
