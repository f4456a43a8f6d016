// Package config defines the crawl configuration surface. Every option can
// be set as a CLI flag or as a MOLTBOOK_* environment variable (flags win),
// with .env files loaded by the CLI entry point before parsing.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every knob of a crawl run.
type Config struct {
	BaseURL     string
	Token       string
	UserAgent   string
	RateRPS     float64
	HeadersFile string
	OutDir      string
	RunID       string
	Snapshot    bool

	SubmoltsPageSize     int
	SubmoltsMode         string
	SubmoltPostsPageSize int
	SubmoltPostsMode     string
	GlobalPostsPageSize  int
	GlobalPostsMode      string
	CommentsPageSize     int
	CommentsMode         string

	SubmoltSorts []string
	GlobalSorts  []string

	SubmoltWorkers  int
	PostConcurrency int

	MaxSubmolts     int
	MaxPosts        int
	MaxCommentPages int
	MaxPagesPerSort int

	OnlySubmolts    string
	ForceSubmolts   bool
	RequeueSubmolts bool
	SubmoltPriority string

	SkipComments         bool
	SkipCommentsWhenZero bool
	NoGlobal             bool

	SkipPreflight          bool
	ForcePreflight         bool
	ContinueOnPreflightErr bool

	LogRequests  bool
	CurlFallback bool
	FreshStart   bool

	MetricsAddr string
	LogFile     string
}

// Register declares all crawl flags on the given flag set.
func Register(flags *pflag.FlagSet) {
	flags.String("base-url", "https://www.moltbook.com", "Platform base URL")
	flags.String("token", "", "Bearer token for the API")
	flags.String("user-agent", "MoltbookAcademicBot/0.1 (contact: research@example.org)", "User-Agent header")
	flags.Float64("rate-rps", 1.0, "Target requests per second shared by all tasks")
	flags.String("headers-file", "", "Path to a JSON file with extra request headers")
	flags.String("out-dir", "data/raw/api_fetch", "Output directory for JSONL files and state")
	flags.String("run-id", "", "Override the run identifier stamped on outputs")
	flags.Bool("snapshot", false, "Use a snapshot state file tagged with the run ID")

	flags.Int("submolts-page-size", 100, "Page size for the submolt listing")
	flags.String("submolts-pagination", "offset", "Pagination mode for submolts: offset, page or auto")
	flags.Int("submolt-posts-page-size", 100, "Page size for per-submolt post listings")
	flags.String("submolt-posts-pagination", "offset", "Pagination mode for submolt posts: offset, page or auto")
	flags.Int("global-posts-page-size", 100, "Page size for the global feed")
	flags.String("global-posts-pagination", "offset", "Pagination mode for the global feed: offset, page or auto")
	flags.Int("comments-page-size", 500, "Page size for comment fetches (capped at 500)")
	flags.String("comments-pagination", "limit", "Pagination mode for comments: offset, page, limit or auto")

	flags.String("submolt-sorts", "new,hot,top", "Comma-separated sort orders per submolt")
	flags.String("global-sorts", "new,hot,top", "Comma-separated sort orders for the global feed")

	flags.Int("submolt-workers", 6, "Concurrent submolt traversal workers")
	flags.Int("post-concurrency", 8, "Concurrent per-post detail/comment fetches")

	flags.Int("max-submolts", 0, "Stop discovering after this many submolts (0 = unlimited)")
	flags.Int("max-posts", 0, "Stop the crawl after this many posts (0 = unlimited)")
	flags.Int("max-comment-pages", 0, "Page ceiling per post's comments (0 = unlimited)")
	flags.Int("max-pages-per-sort", 0, "Page ceiling per (scope, sort) pair (0 = unlimited)")

	flags.String("only-submolts", "", "Comma-separated names or a file of submolts to process")
	flags.Bool("force-submolts", false, "With --only-submolts, clear progress for those submolts first")
	flags.Bool("requeue-submolts", false, "Clear all submolt progress and traverse everything again")
	flags.String("submolt-priority", "subscriber_count", "Queue order: subscriber_count, last_activity or none")

	flags.Bool("skip-comments", false, "Skip all comment fetches")
	flags.Bool("skip-comments-when-zero", true, "Mark comments done without fetching when a listing reports zero")
	flags.Bool("no-global", false, "Skip the global feed traversal")

	flags.Bool("skip-preflight", false, "Skip the one-time sanity probe")
	flags.Bool("force-preflight", false, "Run preflight even when already recorded as done")
	flags.Bool("continue-on-preflight-fail", false, "Keep crawling even when preflight fails")

	flags.Bool("log-requests", true, "Write a log.jsonl event per request (I/O heavy)")
	flags.Bool("curl-fallback", false, "Shell out to curl when Go's DNS resolution fails")
	flags.Bool("fresh-start", false, "Ignore any existing state file and start over")

	flags.String("metrics-addr", "", "Expose Prometheus metrics on this address (empty = disabled)")
	flags.String("log-file", "", "Also write operator logs to this rotated file")
}

// Load binds the flag set to the MOLTBOOK_* environment and materializes the
// typed Config.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MOLTBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(v.GetString("base-url"), "/"),
		Token:       v.GetString("token"),
		UserAgent:   v.GetString("user-agent"),
		RateRPS:     v.GetFloat64("rate-rps"),
		HeadersFile: v.GetString("headers-file"),
		OutDir:      v.GetString("out-dir"),
		RunID:       v.GetString("run-id"),
		Snapshot:    v.GetBool("snapshot"),

		SubmoltsPageSize:     v.GetInt("submolts-page-size"),
		SubmoltsMode:         v.GetString("submolts-pagination"),
		SubmoltPostsPageSize: v.GetInt("submolt-posts-page-size"),
		SubmoltPostsMode:     v.GetString("submolt-posts-pagination"),
		GlobalPostsPageSize:  v.GetInt("global-posts-page-size"),
		GlobalPostsMode:      v.GetString("global-posts-pagination"),
		CommentsPageSize:     v.GetInt("comments-page-size"),
		CommentsMode:         v.GetString("comments-pagination"),

		SubmoltSorts: splitList(v.GetString("submolt-sorts")),
		GlobalSorts:  splitList(v.GetString("global-sorts")),

		SubmoltWorkers:  v.GetInt("submolt-workers"),
		PostConcurrency: v.GetInt("post-concurrency"),

		MaxSubmolts:     v.GetInt("max-submolts"),
		MaxPosts:        v.GetInt("max-posts"),
		MaxCommentPages: v.GetInt("max-comment-pages"),
		MaxPagesPerSort: v.GetInt("max-pages-per-sort"),

		OnlySubmolts:    v.GetString("only-submolts"),
		ForceSubmolts:   v.GetBool("force-submolts"),
		RequeueSubmolts: v.GetBool("requeue-submolts"),
		SubmoltPriority: v.GetString("submolt-priority"),

		SkipComments:         v.GetBool("skip-comments"),
		SkipCommentsWhenZero: v.GetBool("skip-comments-when-zero"),
		NoGlobal:             v.GetBool("no-global"),

		SkipPreflight:          v.GetBool("skip-preflight"),
		ForcePreflight:         v.GetBool("force-preflight"),
		ContinueOnPreflightErr: v.GetBool("continue-on-preflight-fail"),

		LogRequests:  v.GetBool("log-requests"),
		CurlFallback: v.GetBool("curl-fallback"),
		FreshStart:   v.GetBool("fresh-start"),

		MetricsAddr: v.GetString("metrics-addr"),
		LogFile:     v.GetString("log-file"),
	}

	// The platform rejects larger comment pages.
	if cfg.CommentsPageSize > 500 {
		cfg.CommentsPageSize = 500
	}
	if cfg.MaxCommentPages < 0 {
		cfg.MaxCommentPages = 0
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants that would otherwise surface deep in the crawl.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base-url must not be empty")
	}
	if c.RateRPS <= 0 {
		return fmt.Errorf("rate-rps must be positive, got %v", c.RateRPS)
	}
	if c.SubmoltWorkers < 1 {
		return fmt.Errorf("submolt-workers must be at least 1")
	}
	if c.PostConcurrency < 1 {
		return fmt.Errorf("post-concurrency must be at least 1")
	}
	// Listing endpoints page through cursors, so limit mode (a single
	// uncursored fetch) would loop on the same page forever.
	for flag, mode := range map[string]string{
		"submolts-pagination":      c.SubmoltsMode,
		"submolt-posts-pagination": c.SubmoltPostsMode,
		"global-posts-pagination":  c.GlobalPostsMode,
	} {
		switch mode {
		case "offset", "page", "auto":
		default:
			return fmt.Errorf("%s: invalid mode %q", flag, mode)
		}
	}
	switch c.CommentsMode {
	case "offset", "page", "limit", "auto":
	default:
		return fmt.Errorf("comments-pagination: invalid mode %q", c.CommentsMode)
	}
	switch c.SubmoltPriority {
	case "subscriber_count", "last_activity", "none":
	default:
		return fmt.Errorf("submolt-priority: invalid value %q", c.SubmoltPriority)
	}
	if len(c.SubmoltSorts) == 0 {
		return fmt.Errorf("submolt-sorts must name at least one sort")
	}
	if len(c.GlobalSorts) == 0 {
		return fmt.Errorf("global-sorts must name at least one sort")
	}
	return nil
}

// ExtraHeaders reads the optional JSON headers file.
func (c Config) ExtraHeaders() (map[string]string, error) {
	if c.HeadersFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.HeadersFile)
	if err != nil {
		return nil, fmt.Errorf("read headers file: %w", err)
	}
	headers := make(map[string]string)
	if err := json.Unmarshal(data, &headers); err != nil {
		return nil, fmt.Errorf("parse headers file: %w", err)
	}
	return headers, nil
}

// OnlySubmoltList resolves --only-submolts into names: the value is either a
// path to a file with one name per line or a comma-separated list.
func (c Config) OnlySubmoltList() ([]string, error) {
	if c.OnlySubmolts == "" {
		return nil, nil
	}
	if info, err := os.Stat(c.OnlySubmolts); err == nil && !info.IsDir() {
		data, err := os.ReadFile(c.OnlySubmolts)
		if err != nil {
			return nil, fmt.Errorf("read only-submolts file: %w", err)
		}
		var names []string
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				names = append(names, line)
			}
		}
		return names, nil
	}
	return splitList(c.OnlySubmolts), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
