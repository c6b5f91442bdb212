package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorfs/mirrorfs/internal/cli/output"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		files, err := c.List()
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(files))
		for _, f := range files {
			mtime := ""
			if f.Mtime > 0 {
				mtime = time.Unix(f.Mtime, 0).Format(time.RFC3339)
			}
			rows = append(rows, []string{
				f.Name,
				fmt.Sprintf("%d", f.FileSize),
				mtime,
			})
		}

		output.Table(cmd.OutOrStdout(), []string{"NAME", "SIZE", "MODIFIED"}, rows)
		return nil
	},
}

func init() {
	addClientFlags(lsCmd)
}
