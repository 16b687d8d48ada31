package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-admission/internal/auth"
	"github.com/JakeFAU/crawl-admission/internal/blocklist"
	"github.com/JakeFAU/crawl-admission/internal/config"
)

func staticConfig(cfg config.Config) configLoader {
	return func(string) (config.Config, error) { return cfg, nil }
}

func noPath() string { return "" }

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckURL(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Blocklist: config.BlocklistConfig{Domains: blocklist.SocialMedia}}
	out, err := run(t, newCheckURLCmd(noPath, staticConfig(cfg)),
		"https://www.reddit.com/r/golang", "Example.com:80/a?b=2&a=1", "ftp://example.com")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "blocked")
	require.Contains(t, lines[0], "host=www.reddit.com")
	require.Contains(t, lines[1], "ok\thttp://example.com/a?a=1&b=2")
	require.Contains(t, lines[2], "invalid")
}

func TestCheckURLRequiresArgs(t *testing.T) {
	t.Parallel()

	_, err := run(t, newCheckURLCmd(noPath, staticConfig(config.Config{})))
	require.Error(t, err)
}

func TestIssueTokenRoundTrips(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{JWT: config.JWTConfig{Secret: "s3cret", Issuer: "admission"}}}
	out, err := run(t, newIssueTokenCmd(noPath, staticConfig(cfg)), "--tenant", "team-a", "--ttl", "1h")
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: "s3cret", Issuer: "admission"})
	require.NoError(t, err)
	tenant, err := verifier.Resolve(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "team-a", tenant)
}

func TestIssueTokenErrors(t *testing.T) {
	t.Parallel()

	_, err := run(t, newIssueTokenCmd(noPath, staticConfig(config.Config{})), "--tenant", "team-a")
	require.ErrorContains(t, err, "auth.jwt.secret")

	_, err = run(t, newIssueTokenCmd(noPath, staticConfig(config.Config{})))
	require.ErrorContains(t, err, "--tenant is required")
}

func TestGrantCreditsValidatesFlags(t *testing.T) {
	t.Parallel()

	_, err := run(t, newGrantCreditsCmd(noPath, staticConfig(config.Config{})), "--credits", "5")
	require.ErrorContains(t, err, "--tenant is required")

	_, err = run(t, newGrantCreditsCmd(noPath, staticConfig(config.Config{})), "--tenant", "team-a")
	require.ErrorContains(t, err, "--credits must be > 0")

	_, err = run(t, newGrantCreditsCmd(noPath, staticConfig(config.Config{})), "--tenant", "team-a", "--credits", "5")
	require.ErrorContains(t, err, "db.dsn is required")
}

func TestRootReadsConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blocklist:\n  domains: [\"example.org\"]\n"), 0o600))

	out, err := run(t, newRootCmd(), "--config", path, "check-url", "https://a.example.org/", "https://twitter.com/")
	require.NoError(t, err)
	require.Contains(t, out, "https://a.example.org/\tblocked")
	require.Contains(t, out, "https://twitter.com/\tok")
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	out, err := run(t, newRootCmd(), "--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve")
	require.ErrorContains(t, err, "load config")
	require.Contains(t, out, "Error:")
}
