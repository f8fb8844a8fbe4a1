// zapthreads serves and prints nostr comment threads anchored to an
// article address or a web page.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/urfave/cli/v2"

	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/entities"
	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/render"
	"github.com/sandwichfarm/zapthreads/internal/server"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	configFlag = &cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to configuration file", EnvVars: []string{"ZAPTHREADS_CONFIG"}}
	anchorFlag = &cli.StringFlag{Name: "anchor", Aliases: []string{"a"}, Usage: "naddr or URL the thread hangs off"}
	relayFlag  = &cli.StringSliceFlag{Name: "relay", Aliases: []string{"r"}, Usage: "relay URL, repeatable"}
)

func main() {
	app := &cli.App{
		Name:    "zapthreads",
		Usage:   "nostr comment threads for articles and web pages",
		Version: version,
		Commands: []*cli.Command{
			serveCmd,
			showCmd,
			replyCmd,
			archiveCmd,
			initCmd,
			versionCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "serve the thread over HTTP",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		if c.String("config") == "" {
			return fmt.Errorf("no configuration file specified, use --config <path> (zapthreads init prints an example)")
		}

		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, cfg.Anchor, cfg.Relays.URLs)

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := rt.session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	if cfg.Signer.BunkerURL != "" {
		if _, err := rt.session.Login(ctx, cfg.Signer.BunkerURL); err != nil {
			logger.Warn("bunker login failed, replies stay anonymous", "error", err)
		}
	}

	srv := server.New(&cfg.Server, rt.session, rt.archive, logger)
	srv.SetDiagnostics(ops.NewDiagnosticsCollector(version, commit, rt.session, rt.archive))

	if rt.archive != nil && cfg.Archive.Backup.Dir != "" {
		backups := ops.NewPeriodicBackup(
			ops.NewBackupManager(rt.archive, logger),
			cfg.Archive.Backup.Dir,
			cfg.Archive.Backup.Interval(),
			time.Duration(cfg.Archive.Backup.KeepDays)*24*time.Hour,
			logger,
		)
		go backups.Start(ctx)
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.LogShutdown("signal received")
	return srv.Stop()
}

// adhocConfig loads --config when given, else builds one from flags
func adhocConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if anchor := c.String("anchor"); anchor != "" {
		cfg.Anchor = anchor
	}
	if relays := c.StringSlice("relay"); len(relays) > 0 {
		cfg.Relays.URLs = relays
	}
	if c.Bool("verbose") {
		cfg.Logging.Level = "debug"
	} else if c.String("config") == "" {
		cfg.Logging.Level = "warn"
	}

	return config.Finalize(cfg)
}

var showCmd = &cli.Command{
	Name:  "show",
	Usage: "print a thread as indented text",
	Flags: []cli.Flag{
		configFlag,
		anchorFlag,
		relayFlag,
		&cli.DurationFlag{Name: "settle", Value: 3 * time.Second, Usage: "how long to collect events before printing"},
		&cli.BoolFlag{Name: "html", Usage: "print comment bodies as HTML"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	},
	Action: func(c *cli.Context) error {
		cfg, err := adhocConfig(c)
		if err != nil {
			return err
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

		select {
		case <-time.After(c.Duration("settle")):
		case <-c.Context.Done():
			return c.Context.Err()
		}
		rt.session.Flush()

		forest := rt.session.Forest()
		opts := render.OptionsFrom(cfg.Rendering)
		opts.Counts = rt.session.Counts()
		mentions := entities.NewResolver(rt.session.UserStore(), rt.session.Events())
		opts.Mentions = func(content string) string {
			return mentions.ReplaceEntities(content, entities.Plain)
		}

		fmt.Print(render.Header(rt.session.Totals(), cfg.Features))
		fmt.Println()
		fmt.Print(render.Text(forest, rt.session.Users(), opts))

		if c.Bool("html") {
			fmt.Println()
			for _, node := range forest {
				html, err := render.HTML(mentions.ReplaceEntities(node.Event.Content, entities.Markdown))
				if err != nil {
					return err
				}
				fmt.Printf("<!-- %s -->\n%s", node.Event.ID, html)
			}
		}
		return nil
	},
}

var replyCmd = &cli.Command{
	Name:      "reply",
	Usage:     "sign and publish a reply",
	ArgsUsage: "<content>",
	Flags: []cli.Flag{
		configFlag,
		anchorFlag,
		relayFlag,
		&cli.StringFlag{Name: "reply-to", Usage: "event id (hex or note1) of the comment to reply to"},
		&cli.StringFlag{Name: "bunker", Usage: "bunker:// URL of a NIP-46 remote signer, anonymous when empty", EnvVars: []string{"ZAPTHREADS_BUNKER_URL"}},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	},
	Action: func(c *cli.Context) error {
		content := strings.Join(c.Args().Slice(), " ")

		cfg, err := adhocConfig(c)
		if err != nil {
			return err
		}
		cfg.Signer.Publish = true
		logger := ops.NewLogger(&cfg.Logging)

		replyTo, err := eventID(c.String("reply-to"))
		if err != nil {
			return err
		}

		rt, err := newRuntime(c.Context, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.session.Start(c.Context); err != nil {
			return err
		}
		if rt.session.Anchor() == nil {
			return fmt.Errorf("could not resolve anchor %s", cfg.Anchor)
		}

		if bunker := c.String("bunker"); bunker != "" {
			user, err := rt.session.Login(c.Context, bunker)
			if err != nil {
				return err
			}
			logger.Info("signing as", "npub", user.Npub)
		}

		evt, err := rt.session.Reply(c.Context, replyTo, content)
		if err != nil {
			return err
		}

		note, _ := nip19.EncodeNote(evt.ID)
		fmt.Println(note)
		return nil
	},
}

// eventID accepts a hex id or a note1 reference
func eventID(ref string) (string, error) {
	if ref == "" || !strings.HasPrefix(ref, "note1") {
		return ref, nil
	}
	prefix, value, err := nip19.Decode(ref)
	if err != nil || prefix != "note" {
		return "", fmt.Errorf("invalid note reference %q", ref)
	}
	return value.(string), nil
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "print an example configuration",
	Action: func(c *cli.Context) error {
		example, err := config.GetExampleConfig()
		if err != nil {
			return fmt.Errorf("failed to read example config: %w", err)
		}

		fmt.Print(string(example))
		fmt.Fprintln(os.Stderr, "# save as zapthreads.yaml and run: zapthreads serve --config zapthreads.yaml")
		return nil
	},
}

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "print version information",
	Action: func(c *cli.Context) error {
		fmt.Printf("zapthreads %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		return nil
	},
}
