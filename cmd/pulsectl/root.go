package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Pulse/internal/api"
	"github.com/soaringjerry/Pulse/internal/blob"
	"github.com/soaringjerry/Pulse/internal/config"
	"github.com/soaringjerry/Pulse/internal/middleware"
	"github.com/soaringjerry/Pulse/internal/services"
	"github.com/soaringjerry/Pulse/internal/utils"
)

type cli struct {
	configPath string
	storage    string
	output     string
}

// newRootCmd wires the CLI surface. Persistent flags are applied on top of
// the loaded config in loadCfg.
func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "pulsectl",
		Short:         "Pulse admin tool",
		Long:          "Move data between Pulse stores, export backups, issue admin tokens and inspect the publication phase.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (overrides PULSE_CONFIG)")
	root.PersistentFlags().StringVar(&c.storage, "storage", "", "Storage driver: memory|sqlite|postgres")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "text", "Output format: json|text")

	root.AddCommand(
		c.migrateCmd(),
		c.exportCmd(),
		c.statusCmd(),
		c.archivesCmd(),
		hashPasswordCmd(),
		c.tokenCmd(),
		&cobra.Command{Use: "version", Short: "Show version", Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pulsectl %s\n", utils.SafeEnv("PULSE_COMMIT", "dev"))
		}},
	)
	return root
}

func (c *cli) loadCfg() (config.Config, error) {
	path := c.configPath
	if path == "" {
		path = utils.SafeEnv("PULSE_CONFIG", config.DefaultPath)
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return cfg, err
	}
	if c.storage != "" {
		cfg.Storage.Driver = strings.ToLower(c.storage)
	}
	return cfg, cfg.Validate()
}

func (c *cli) print(w io.Writer, v any, text func(io.Writer)) error {
	switch c.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		text(w)
		return nil
	default:
		return fmt.Errorf("invalid --output: %s (use json|text)", c.output)
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	var from, sqlitePath, dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import a memory-store dataset file into SQLite or Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadCfg()
			if err != nil {
				return err
			}
			if from == "" {
				from = cfg.Storage.MemoryPath
			}
			if sqlitePath != "" {
				cfg.Storage.SQLitePath = sqlitePath
			}
			if dsn != "" {
				cfg.Storage.PostgresDSN = dsn
			}
			ds, err := api.LoadDataset(from)
			if err != nil {
				return fmt.Errorf("load dataset: %w", err)
			}
			dst, err := openImporter(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer dst.Close()
			if err := dst.ImportDataset(cmd.Context(), ds); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			res := map[string]any{
				"ok":          true,
				"storage":     cfg.Storage.Driver,
				"cycles":      len(ds.Cycles),
				"submissions": len(ds.Submissions),
				"snapshots":   len(ds.Snapshots),
				"audit":       len(ds.Audit),
			}
			return c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "imported %d cycles, %d submissions, %d snapshots, %d audit entries into %s\n",
					len(ds.Cycles), len(ds.Submissions), len(ds.Snapshots), len(ds.Audit), cfg.Storage.Driver)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Dataset file written by the memory store (default: storage.memory_path)")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", "", "Target SQLite file")
	cmd.Flags().StringVar(&dsn, "postgres-dsn", "", "Target Postgres DSN")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole store as a dataset JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadCfg()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close()
			ds, err := st.ExportDataset(cmd.Context())
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(ds, "", "  ")
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			if err := os.WriteFile(out, b, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d cycles to %s\n", len(ds.Cycles), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current cycle and publication phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadCfg()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close()
			view, err := services.NewPhaseService(st).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), view, func(w io.Writer) {
				fmt.Fprintf(w, "phase:  %s\n", view.Phase)
				if view.Cycle != nil {
					fmt.Fprintf(w, "cycle:  %s (%s, %s)\n", view.Cycle.Label, view.Cycle.ID, view.Cycle.Status)
				} else {
					fmt.Fprintln(w, "cycle:  none")
				}
				if lp := view.LatestPublished; lp != nil {
					fmt.Fprintf(w, "latest: %s published %s locked=%v\n", lp.Period, lp.PublishedAt.Format(time.RFC3339), lp.IsLocked)
				}
			})
		},
	}
}

func (c *cli) archivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archives",
		Short: "List archived locked snapshots in the blob store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadCfg()
			if err != nil {
				return err
			}
			bc, ok := cfg.BlobStore()
			if !ok {
				return fmt.Errorf("snapshot archiving is disabled (blob.driver=%s)", config.BlobNone)
			}
			bs, err := blob.Open(cmd.Context(), bc)
			if err != nil {
				return err
			}
			infos, err := blob.NewArchiver(bs).List(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), infos, func(w io.Writer) {
				for _, in := range infos {
					fmt.Fprintf(w, "%s\t%d\t%s\n", in.Key, in.Size, in.LastModified.Format(time.RFC3339))
				}
			})
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for PULSE_ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := services.HashPassword(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadCfg()
			if err != nil {
				return err
			}
			if email == "" {
				email = cfg.Admin.Email
			}
			if email == "" {
				return fmt.Errorf("--email is required when no admin is configured")
			}
			tok, err := middleware.NewAuthenticator(cfg.JWTSecret).Sign(services.Actor{ID: "admin", Email: email, Admin: true}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email (default: admin.email)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
