package api

import (
	"context"

	"github.com/moltlab/moltbook-scraper/model"
)

// API route templates. Only the shape matters; the host comes from config.
const (
	SubmoltsPath = "/api/v1/submolts"
	PostsPath    = "/api/v1/posts"
)

// Posts-endpoint kinds for a submolt. The platform exposes some submolts
// through a dedicated feed route and others only through the global posts
// route filtered by name.
const (
	EndpointFeed  = "feed"
	EndpointPosts = "posts"
)

// PostDetailPath returns the detail route for a post.
func PostDetailPath(postID string) string {
	return PostsPath + "/" + postID
}

// PostCommentsPath returns the comments route for a post.
func PostCommentsPath(postID string) string {
	return PostsPath + "/" + postID + "/comments"
}

// SubmoltPostsPath returns the listing route for a submolt's posts given the
// resolved endpoint kind.
func SubmoltPostsPath(kind, name string) string {
	if kind == EndpointFeed {
		return SubmoltsPath + "/" + name + "/feed"
	}
	return PostsPath
}

// SubmoltPostsParams returns the base query parameters for a submolt listing.
func SubmoltPostsParams(kind, name, sort string) map[string]string {
	params := map[string]string{"sort": sort}
	if kind == EndpointPosts {
		params["submolt"] = name
	}
	return params
}

// EndpointCache persists resolved submolt endpoint kinds.
type EndpointCache interface {
	SubmoltEndpoint(name string) (string, bool)
	SetSubmoltEndpoint(name, kind string) error
}

// ResolveSubmoltEndpoint determines which route serves a submolt's posts,
// probing each candidate with limit=1 and caching the first that returns a
// recognizable list. Both probes failing falls back to the posts route
// without caching, so the next run probes again.
func (c *Client) ResolveSubmoltEndpoint(ctx context.Context, cache EndpointCache, name, sort string) (string, error) {
	if cached, ok := cache.SubmoltEndpoint(name); ok {
		if cached == EndpointFeed || cached == EndpointPosts {
			return cached, nil
		}
	}

	candidates := []struct {
		kind   string
		path   string
		params map[string]string
	}{
		{EndpointFeed, SubmoltsPath + "/" + name + "/feed", map[string]string{"sort": sort, "limit": "1"}},
		{EndpointPosts, PostsPath, map[string]string{"sort": sort, "limit": "1", "submolt": name}},
	}
	for _, cand := range candidates {
		payload, err := c.FetchJSON(ctx, cand.path, cand.params)
		if err != nil {
			continue
		}
		if _, ok := model.ExtractList(payload); ok {
			if err := cache.SetSubmoltEndpoint(name, cand.kind); err != nil {
				return "", err
			}
			c.journal.Event(map[string]any{"event": "submolt_endpoint_resolved", "endpoint": cand.kind, "name": name})
			return cand.kind, nil
		}
	}
	c.journal.Event(map[string]any{"event": "submolt_endpoint_fallback", "endpoint": EndpointPosts, "name": name})
	return EndpointPosts, nil
}
