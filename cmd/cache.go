package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the package cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.cfg.CacheRoot()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), root)
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Remove every downloaded package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.cfg.CacheRoot()
			if err != nil {
				return err
			}

			packages := filepath.Join(root, "github")
			err = os.RemoveAll(packages)
			if err != nil {
				return eris.Wrapf(err, "Failed to remove %s", packages)
			}

			a.logger.Info().Str("path", packages).Msg("Removed cached packages")
			return nil
		},
	})

	return cacheCmd
}
