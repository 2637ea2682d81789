// Package recommend implements the recommendation pipeline: it composes the
// user-profile and content breakers with a terminal, breaker-less trending
// fallback into a single response.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brightlane/recoguard/internal/breaker"
	"github.com/brightlane/recoguard/internal/loadbalancer"
	"github.com/brightlane/recoguard/internal/outbound"
	"github.com/brightlane/recoguard/internal/trendingcache"
)

// DefaultPreferences is substituted when the user-profile call fails.
var DefaultPreferences = []string{"Comedy", "Family"}

// Movie is one recommended (or trending) title.
type Movie struct {
	MovieID int    `json:"movieId"`
	Title   string `json:"title"`
	Genre   string `json:"genre"`
}

type userProfileResponse struct {
	UserID      string   `json:"userId"`
	Preferences []string `json:"preferences"`
}

type contentResponse struct {
	Movies []Movie `json:"movies"`
}

type trendingResponse struct {
	Trending []Movie `json:"trending"`
}

// Response is the union of every wire shape GET /recommendations/{userId}
// can return. Only the fields relevant to the outcome are populated;
// MarshalJSON below picks the matching shape.
type Response struct {
	Status int

	// Normal / user-profile-fallback shape.
	UserID      string
	Preferences []string
	Movies      []Movie

	// Trending-fallback shape.
	Message  string
	Trending []Movie

	// 503 shape.
	Error string

	FallbacksTriggered []string
}

func (r *Response) fallbackTriggeredFor() string {
	return strings.Join(r.FallbacksTriggered, ", ")
}

// MarshalJSON renders the one wire shape that matches how r was built.
func (r *Response) MarshalJSON() ([]byte, error) {
	switch {
	case r.Error != "":
		body := map[string]any{"error": r.Error}
		if len(r.FallbacksTriggered) > 0 {
			body["fallback_triggered_for"] = r.fallbackTriggeredFor()
		}
		return json.Marshal(body)

	case r.Message != "":
		return json.Marshal(map[string]any{
			"message":                r.Message,
			"trending":               r.Trending,
			"fallback_triggered_for": r.fallbackTriggeredFor(),
		})

	default:
		body := map[string]any{
			"userPreferences": map[string]any{
				"userId":      r.UserID,
				"preferences": r.Preferences,
			},
			"recommendations": r.Movies,
		}
		if len(r.FallbacksTriggered) > 0 {
			body["fallback_triggered_for"] = r.fallbackTriggeredFor()
		}
		return json.Marshal(body)
	}
}

const (
	degradedMessage  = "Our recommendation service is temporarily degraded. Here are some trending movies."
	allDownMessage   = "All services are currently unavailable. Please try again shortly."
	userProfileLabel = "user-profile-service"
	contentLabel     = "content-service"
)

// Upstream bundles one dependency's replica selector, breaker (nil for
// trending, which is called directly, uninterposed), and per-call deadline.
type Upstream struct {
	Balancer loadbalancer.Balancer
	Breaker  *breaker.Breaker // nil for trending
	Deadline time.Duration
	Path     string // appended to the chosen replica's base URL
}

// Pipeline orchestrates the three upstreams into one recommendation.
type Pipeline struct {
	caller      *outbound.Caller
	userProfile Upstream
	content     Upstream
	trending    Upstream
	cache       trendingcache.Cache
	log         *zap.SugaredLogger
}

func New(caller *outbound.Caller, userProfile, content, trending Upstream, cache trendingcache.Cache, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		caller:      caller,
		userProfile: userProfile,
		content:     content,
		trending:    trending,
		cache:       cache,
		log:         log,
	}
}

// Recommend runs the four-step pipeline for userID.
func (p *Pipeline) Recommend(ctx context.Context, userID string) *Response {
	var fallbacks []string

	// Step A — user preferences.
	preferences, resolvedUserID, ok := p.stepA(ctx, userID)
	if !ok {
		preferences = DefaultPreferences
		resolvedUserID = userID
		fallbacks = append(fallbacks, userProfileLabel)
	}

	// Step B — content.
	movies, ok := p.stepB(ctx, resolvedUserID, preferences)
	if ok {
		return &Response{
			Status:             200,
			UserID:             resolvedUserID,
			Preferences:        preferences,
			Movies:             movies,
			FallbacksTriggered: fallbacks,
		}
	}
	fallbacks = append(fallbacks, contentLabel)

	// Step C — terminal trending fallback.
	trending, ok := p.stepC(ctx)
	if ok {
		return &Response{
			Status:             200,
			Message:            degradedMessage,
			Trending:           trending,
			FallbacksTriggered: fallbacks,
		}
	}

	return &Response{
		Status:             503,
		Error:              allDownMessage,
		FallbacksTriggered: fallbacks,
	}
}

func (p *Pipeline) stepA(ctx context.Context, userID string) ([]string, string, bool) {
	replicaURL, err := p.userProfile.Balancer.Next(userID)
	if err != nil {
		p.log.Warnw("no healthy user-profile replica", "err", err)
		return nil, "", false
	}

	target := replicaURL.URL + p.userProfile.Path + "/" + url.PathEscape(userID)

	resp, err := breaker.Execute(ctx, p.userProfile.Breaker, func(ctx context.Context) (userProfileResponse, error) {
		return outbound.Get[userProfileResponse](ctx, p.caller, target, p.userProfile.Deadline)
	})
	if err != nil {
		p.log.Infow("user-profile fallback", "userId", userID, "err", err)
		return nil, "", false
	}
	return resp.Preferences, resp.UserID, true
}

func (p *Pipeline) stepB(ctx context.Context, userID string, preferences []string) ([]Movie, bool) {
	replicaURL, err := p.content.Balancer.Next(userID)
	if err != nil {
		p.log.Warnw("no healthy content replica", "err", err)
		return nil, false
	}

	genres := url.QueryEscape(strings.Join(preferences, ","))
	target := fmt.Sprintf("%s%s?genres=%s", replicaURL.URL, p.content.Path, genres)

	resp, err := breaker.Execute(ctx, p.content.Breaker, func(ctx context.Context) (contentResponse, error) {
		return outbound.Get[contentResponse](ctx, p.caller, target, p.content.Deadline)
	})
	if err != nil {
		p.log.Infow("content fallback", "err", err)
		return nil, false
	}
	movies := resp.Movies
	if movies == nil {
		movies = []Movie{}
	}
	return movies, true
}

func (p *Pipeline) stepC(ctx context.Context) ([]Movie, bool) {
	replicaURL, err := p.trending.Balancer.Next("")
	if err == nil {
		target := replicaURL.URL + p.trending.Path

		resp, err := outbound.Get[trendingResponse](ctx, p.caller, target, p.trending.Deadline)
		if err == nil {
			if payload, mErr := json.Marshal(resp); mErr == nil {
				p.cache.Put(ctx, payload)
			}
			return resp.Trending, true
		}
		p.log.Warnw("trending call failed, consulting cache", "err", err)
	} else {
		p.log.Warnw("no healthy trending replica, consulting cache", "err", err)
	}

	cached, ok := p.cache.Get(ctx)
	if !ok {
		return nil, false
	}
	var resp trendingResponse
	if err := json.Unmarshal(cached, &resp); err != nil {
		return nil, false
	}
	return resp.Trending, true
}
