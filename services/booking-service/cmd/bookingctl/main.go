// Command bookingctl is the operator tool for the booking service: schema migrations, document
// indexes, catalog seeding and ad-hoc slot queries.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/md-rashed-zaman/dentbook/libs/config"
	"github.com/md-rashed-zaman/dentbook/libs/db"
	"github.com/md-rashed-zaman/dentbook/libs/runtime"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/app"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/docstore"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/migrations"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "bookingctl",
		Short:        "Operate the dental booking service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (defaults to $CONFIG_FILE)")

	load := func() (*config.Config, error) {
		if configFile != "" {
			return config.Load(configFile)
		}
		return config.FromEnv()
	}

	root.AddCommand(migrateCmd(load))
	root.AddCommand(indexesCmd(load))
	root.AddCommand(seedCmd(load))
	root.AddCommand(slotsCmd(load))
	return root
}

type loader func() (*config.Config, error)

func migrateCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), load, func(m *db.Migrator) error {
				n, err := m.Up(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", n)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), load, func(m *db.Migrator) error {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%04d  %-8s  %s\n", s.Version, state, s.Name)
				}
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(ctx context.Context, load loader, fn func(*db.Migrator) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	pool, err := app.OpenPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(db.NewMigrator(pool, migrations.Files))
}

func indexesCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create the MongoDB indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			client, err := app.OpenMongo(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer client.Close(context.Background())
			if err := docstore.New(client, cliLogger(cfg)).EnsureIndexes(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Indexes are in place.")
			return nil
		},
	}
}

func seedCmd(load loader) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert clinics, doctors and services from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := readCatalog(file)
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			backend, err := app.Backend(cfg)
			if err != nil {
				return err
			}

			var w catalogWriter
			if backend == app.BackendMongo {
				client, err := app.OpenMongo(ctx, cfg)
				if err != nil {
					return err
				}
				defer client.Close(context.Background())
				store := docstore.New(client, cliLogger(cfg))
				if err := store.EnsureIndexes(ctx); err != nil {
					return err
				}
				w = store
			} else {
				pool, err := app.OpenPostgres(ctx, cfg)
				if err != nil {
					return err
				}
				defer pool.Close()
				w = storage.NewClinicRepository(pool)
			}

			if err := catalog.apply(ctx, w); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d clinic(s), %d doctor(s), %d service(s) into %s.\n",
				len(catalog.Clinics), len(catalog.Doctors), len(catalog.Services), backend)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func slotsCmd(load loader) *cobra.Command {
	var q scheduling.Query
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the available slots for a doctor on a date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := cliLogger(cfg)
			stores, err := app.OpenStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer stores.Close(context.Background())

			a, err := app.New(cfg, logger, stores)
			if err != nil {
				return err
			}
			defer a.Close()

			slots, err := a.Slots.Slots(ctx, q)
			if err != nil {
				return err
			}
			printSlots(cmd.OutOrStdout(), slots, q.DurationMinutes)
			return nil
		},
	}
	cmd.Flags().StringVar(&q.ClinicID, "clinic", "", "clinic id")
	cmd.Flags().StringVar(&q.DoctorID, "doctor", "", "doctor id")
	cmd.Flags().StringVar(&q.Date, "date", "", "date as YYYY-MM-DD")
	cmd.Flags().IntVar(&q.DurationMinutes, "duration", 30, "appointment length in minutes")
	for _, f := range []string{"clinic", "doctor", "date"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func printSlots(w io.Writer, slots []scheduling.TimeSlot, duration int) {
	if len(slots) == 0 {
		fmt.Fprintln(w, "no available slots")
		return
	}
	for _, s := range slots {
		fmt.Fprintf(w, "%s-%s\n", s.Start, clock.Format(s.Minute()+duration))
	}
}

func cliLogger(cfg *config.Config) *slog.Logger {
	return runtime.NewLogger("bookingctl", cfg.String("LOG_LEVEL", "warn"))
}
