package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/epine-build/epine/pkg/fetch"
	"github.com/epine-build/epine/pkg/resolver"
)

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch @owner/repo/ref...",
		Short: "Download packages into the cache and print their paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheRoot, err := a.cfg.CacheRoot()
			if err != nil {
				return err
			}

			fetcher := fetch.New(fetch.Options{
				CacheRoot: cacheRoot,
				BaseURL:   a.cfg.Fetch.BaseURL,
				Timeout:   a.cfg.FetchTimeout(),
				Progress:  a.cfg.Fetch.Progress,
			})

			for _, arg := range args {
				coord, err := fetch.ParseCoordinate(strings.TrimPrefix(arg, resolver.RemoteSigil))
				if err != nil {
					return err
				}

				path, err := fetcher.Fetch(a.ctx, coord)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), path)
			}

			return nil
		},
	}
}
