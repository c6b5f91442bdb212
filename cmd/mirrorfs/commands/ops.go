package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorfs/mirrorfs/pkg/client"
)

// Client flag overrides shared by every client-side command.
var (
	clientServer   string
	clientMount    string
	clientID       string
	clientDeadline time.Duration
)

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientServer, "server", "", "server address (overrides config)")
	cmd.Flags().StringVar(&clientMount, "mount", "", "local mount directory (overrides config)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client identity (overrides config; default generated)")
	cmd.Flags().DurationVar(&clientDeadline, "deadline", 0, "per-call deadline (overrides config)")
}

// newClient builds a client from config plus flag overrides.
func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	clientCfg := client.Config{
		Server:        cfg.Client.Server,
		MountPath:     cfg.Client.MountPath,
		ClientID:      cfg.Client.ClientID,
		Deadline:      cfg.Client.Deadline,
		ResetInterval: cfg.Client.ResetInterval,
	}
	if clientServer != "" {
		clientCfg.Server = clientServer
	}
	if clientMount != "" {
		clientCfg.MountPath = clientMount
	}
	if clientID != "" {
		clientCfg.ClientID = clientID
	}
	if clientDeadline != 0 {
		clientCfg.Deadline = clientDeadline
	}

	return client.New(clientCfg)
}

var storeCmd = &cobra.Command{
	Use:   "store <file>",
	Short: "Push a local file to the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		info, err := c.Store(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("stored %s (%d bytes, mtime %d)\n", info.Name, info.FileSize, info.Mtime)
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <file>",
	Short: "Pull a file from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if err := c.Fetch(args[0]); err != nil {
			return err
		}
		cmd.Printf("fetched %s\n", args[0])
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <file>",
	Short: "Delete a file on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		info, err := c.Delete(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("deleted %s (%d bytes)\n", info.Name, info.FileSize)
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <file>",
	Short: "Show a file's metadata on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		info, err := c.Stat(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("name:  %s\nsize:  %d\nmtime: %d\nctime: %d\n",
			info.Name, info.FileSize, info.Mtime, info.Ctime)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock <file>",
	Short: "Acquire the write lock for a file (diagnostic)",
	Long: `Acquire the server-side write lock for a file.

The lock is released by the server when this client completes a store or
delete; a lock acquired here and never used stays held until then. Useful
for exercising the lock protocol.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if err := c.RequestWriteLock(args[0]); err != nil {
			return err
		}
		cmd.Printf("write lock acquired for %s (client %s)\n", args[0], c.ClientID())
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{storeCmd, fetchCmd, rmCmd, statCmd, lockCmd} {
		addClientFlags(cmd)
	}
}
