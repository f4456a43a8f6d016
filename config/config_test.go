package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Register(flags)
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "https://www.moltbook.com", cfg.BaseURL)
	assert.Equal(t, 1.0, cfg.RateRPS)
	assert.Equal(t, "data/raw/api_fetch", cfg.OutDir)
	assert.Equal(t, []string{"new", "hot", "top"}, cfg.SubmoltSorts)
	assert.Equal(t, []string{"new", "hot", "top"}, cfg.GlobalSorts)
	assert.Equal(t, 6, cfg.SubmoltWorkers)
	assert.Equal(t, 8, cfg.PostConcurrency)
	assert.Equal(t, "offset", cfg.SubmoltsMode)
	assert.Equal(t, "limit", cfg.CommentsMode)
	assert.Equal(t, 500, cfg.CommentsPageSize)
	assert.Equal(t, "subscriber_count", cfg.SubmoltPriority)
	assert.True(t, cfg.SkipCommentsWhenZero)
	assert.True(t, cfg.LogRequests)
	assert.False(t, cfg.CurlFallback)
}

func TestLoadFromFlags(t *testing.T) {
	flags := newFlags(t)
	require.NoError(t, flags.Parse([]string{
		"--base-url", "https://staging.moltbook.com/",
		"--rate-rps", "2.5",
		"--submolt-sorts", "new, top",
		"--max-posts", "100",
	}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	// Trailing slash is stripped so path joins stay clean.
	assert.Equal(t, "https://staging.moltbook.com", cfg.BaseURL)
	assert.Equal(t, 2.5, cfg.RateRPS)
	assert.Equal(t, []string{"new", "top"}, cfg.SubmoltSorts)
	assert.Equal(t, 100, cfg.MaxPosts)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MOLTBOOK_TOKEN", "env-token")
	t.Setenv("MOLTBOOK_RATE_RPS", "0.5")
	t.Setenv("MOLTBOOK_OUT_DIR", "/tmp/moltbook")

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, 0.5, cfg.RateRPS)
	assert.Equal(t, "/tmp/moltbook", cfg.OutDir)
}

func TestFlagsBeatEnvironment(t *testing.T) {
	t.Setenv("MOLTBOOK_RATE_RPS", "0.5")

	flags := newFlags(t)
	require.NoError(t, flags.Parse([]string{"--rate-rps", "3"}))
	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.RateRPS)
}

func TestCommentsPageSizeCapped(t *testing.T) {
	flags := newFlags(t)
	require.NoError(t, flags.Parse([]string{"--comments-page-size", "2000"}))
	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.CommentsPageSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero rate", []string{"--rate-rps", "0"}},
		{"negative rate", []string{"--rate-rps", "-1"}},
		{"no workers", []string{"--submolt-workers", "0"}},
		{"no post concurrency", []string{"--post-concurrency", "0"}},
		{"bad pagination mode", []string{"--submolts-pagination", "cursor"}},
		{"limit mode on submolts", []string{"--submolts-pagination", "limit"}},
		{"limit mode on submolt posts", []string{"--submolt-posts-pagination", "limit"}},
		{"limit mode on global posts", []string{"--global-posts-pagination", "limit"}},
		{"bad comments mode", []string{"--comments-pagination", "cursor"}},
		{"bad priority", []string{"--submolt-priority", "alphabetical"}},
		{"empty sorts", []string{"--submolt-sorts", " , "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := newFlags(t)
			require.NoError(t, flags.Parse(tt.args))
			_, err := Load(flags)
			assert.Error(t, err)
		})
	}
}

func TestExtraHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "headers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"X-Research-Project":"moltlab"}`), 0o644))

	flags := newFlags(t)
	require.NoError(t, flags.Parse([]string{"--headers-file", path}))
	cfg, err := Load(flags)
	require.NoError(t, err)

	headers, err := cfg.ExtraHeaders()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Research-Project": "moltlab"}, headers)
}

func TestExtraHeadersAbsent(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	headers, err := cfg.ExtraHeaders()
	require.NoError(t, err)
	assert.Nil(t, headers)
}

func TestOnlySubmoltListInline(t *testing.T) {
	flags := newFlags(t)
	require.NoError(t, flags.Parse([]string{"--only-submolts", "golang, ai ,agents"}))
	cfg, err := Load(flags)
	require.NoError(t, err)

	names, err := cfg.OnlySubmoltList()
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "ai", "agents"}, names)
}

func TestOnlySubmoltListFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submolts.txt")
	require.NoError(t, os.WriteFile(path, []byte("golang\n\nai\n"), 0o644))

	flags := newFlags(t)
	require.NoError(t, flags.Parse([]string{"--only-submolts", path}))
	cfg, err := Load(flags)
	require.NoError(t, err)

	names, err := cfg.OnlySubmoltList()
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "ai"}, names)
}

func TestOnlySubmoltListEmpty(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	names, err := cfg.OnlySubmoltList()
	require.NoError(t, err)
	assert.Nil(t, names)
}
