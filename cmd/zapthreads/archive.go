package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/storage"
)

var archiveCmd = &cli.Command{
	Name:  "archive",
	Usage: "sync, export or import the archive",
	Subcommands: []*cli.Command{
		archiveSyncCmd,
		{
			Name:      "export",
			Usage:     "write every archived event to a file",
			ArgsUsage: "[file]",
			Flags:     []cli.Flag{configFlag},
			Action: func(c *cli.Context) error {
				return withArchive(c, func(mgr *ops.BackupManager, cfg *config.Config) error {
					dest := c.Args().First()
					if dest == "" {
						dir := cfg.Archive.Backup.Dir
						if dir == "" {
							dir = "."
						}
						dest = filepath.Join(dir, ops.BackupName(time.Now()))
					}

					count, err := mgr.Export(c.Context, dest)
					if err != nil {
						return err
					}
					fmt.Printf("exported %d events to %s\n", count, dest)
					return nil
				})
			},
		},
		{
			Name:      "import",
			Usage:     "store the signed events of a backup file",
			ArgsUsage: "<file>",
			Flags:     []cli.Flag{configFlag},
			Action: func(c *cli.Context) error {
				src := c.Args().First()
				if src == "" {
					return fmt.Errorf("no backup file given")
				}
				return withArchive(c, func(mgr *ops.BackupManager, _ *config.Config) error {
					imported, skipped, err := mgr.Import(c.Context, src)
					if err != nil {
						return err
					}
					fmt.Printf("imported %d events, skipped %d\n", imported, skipped)
					return nil
				})
			},
		},
	},
}

// withArchive opens the configured sqlite archive for the duration of fn
func withArchive(c *cli.Context, fn func(*ops.BackupManager, *config.Config) error) error {
	if c.String("config") == "" {
		return fmt.Errorf("no configuration file specified, use --config <path>")
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if cfg.Archive.Driver != "sqlite" {
		return fmt.Errorf("archive driver %q does not persist, nothing to export or import", cfg.Archive.Driver)
	}

	logger := ops.NewLogger(&cfg.Logging)
	st, err := storage.New(c.Context, &cfg.Archive)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ops.NewBackupManager(st, logger), cfg)
}

var archiveSyncCmd = &cli.Command{
	Name:  "sync",
	Usage: "fill the archive with the thread from relays using NIP-77 negentropy",
	Flags: []cli.Flag{configFlag, anchorFlag, relayFlag, &cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}}},
	Action: func(c *cli.Context) error {
		cfg, err := adhocConfig(c)
		if err != nil {
			return err
		}
		if !cfg.Archive.Enabled || cfg.Archive.Driver != "sqlite" {
			return fmt.Errorf("archive sync needs an enabled sqlite archive")
		}
		logger := ops.NewLogger(&cfg.Logging)

		rt, err := newRuntime(c.Context, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.session.Start(c.Context); err != nil {
			return err
		}
		filter, ok := rt.session.Filter()
		if !ok {
			return fmt.Errorf("could not resolve anchor %s", cfg.Anchor)
		}

		var synced int
		for _, relay := range cfg.Relays.URLs {
			if err := rt.archive.SyncFrom(c.Context, relay, filter); err != nil {
				logger.Warn("negentropy sync failed", "relay", relay, "error", err)
				continue
			}
			synced++
		}

		count, err := rt.archive.CountEvents(c.Context, filter)
		if err != nil {
			return err
		}
		fmt.Printf("synced with %d of %d relays, %d thread events archived\n", synced, len(cfg.Relays.URLs), count)
		return nil
	},
}
