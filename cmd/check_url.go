package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-admission/internal/blocklist"
	"github.com/JakeFAU/crawl-admission/internal/urlcheck"
)

// newCheckURLCmd reports what the blocklist and normalizer make of each
// argument, in the order the pipeline applies them.
func newCheckURLCmd(path func() string, load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "check-url URL...",
		Short: "Check URLs against the blocklist and normalizer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(path())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			filter := blocklist.New(cfg.Blocklist.Domains, cfg.Blocklist.AllowKeywords)
			out := cmd.OutOrStdout()
			for _, raw := range args {
				if filter.IsBlocked(raw) {
					fmt.Fprintf(out, "%s\tblocked\thost=%s\n", raw, blocklist.RawHost(raw))
					continue
				}
				normalized, err := urlcheck.NormalizeURL(raw)
				if err != nil {
					fmt.Fprintf(out, "%s\tinvalid\t%v\n", raw, err)
					continue
				}
				fmt.Fprintf(out, "%s\tok\t%s\n", raw, normalized)
			}
			return nil
		},
	}
}
