package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/ehr/quickassign/internal/config"
	"github.com/ehr/quickassign/internal/domain/assignment"
	"github.com/ehr/quickassign/internal/domain/identity"
	"github.com/ehr/quickassign/internal/platform/auth"
	"github.com/ehr/quickassign/internal/platform/db"
	"github.com/ehr/quickassign/internal/platform/middleware"
	"github.com/ehr/quickassign/internal/platform/queue"
	"github.com/ehr/quickassign/internal/platform/telemetry"
	"github.com/ehr/quickassign/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "quickassign",
		Short:        "Automatic patient-to-practitioner assignment",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(assignCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(migrateCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("request-timeout")
			return runServer(timeout)
		},
	}
	cmd.Flags().Duration("request-timeout", 30*time.Second, "Per-request deadline (0 disables)")
	return cmd
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume assignment attempts from RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefetch, _ := cmd.Flags().GetInt("prefetch")
			return runWorker(prefetch)
		},
	}
	cmd.Flags().Int("prefetch", 8, "Unacknowledged deliveries per consumer")
	return cmd
}

func assignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <patient-id>",
		Short: "Run one assignment attempt for a patient and print its event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid patient id: %w", err)
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orchestrator.AttemptAssignment(ctx, patientID); err != nil {
				return err
			}
			ev, err := a.events.GetByPatient(ctx, patientID)
			if err != nil {
				return err
			}
			renderEvents(cmd.OutOrStdout(), []*assignment.Event{ev})
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect auto-assignment events",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List auto-assignment events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := listFilterFromFlags(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			events, total, err := assignment.NewEventRepoPG(pool).List(ctx, filter, limit, offset)
			if err != nil {
				return err
			}
			renderEvents(cmd.OutOrStdout(), events)
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d event(s)\n", len(events), total)
			return nil
		},
	}
	listCmd.Flags().String("status", "", "Filter by status (PENDING, SUCCESS, FAILED)")
	listCmd.Flags().String("patient", "", "Filter by patient id")
	listCmd.Flags().Int("limit", 20, "Maximum rows")
	listCmd.Flags().Int("offset", 0, "Rows to skip")
	cmd.AddCommand(listCmd)

	return cmd
}

func listFilterFromFlags(cmd *cobra.Command) (assignment.ListFilter, error) {
	var filter assignment.ListFilter
	if v, _ := cmd.Flags().GetString("status"); v != "" {
		s, err := assignment.ParseStatus(v)
		if err != nil {
			return filter, err
		}
		filter.Status = s
	}
	if v, _ := cmd.Flags().GetString("patient"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, fmt.Errorf("invalid patient id: %w", err)
		}
		filter.PatientID = id
	}
	return filter, nil
}

func renderEvents(w io.Writer, events []*assignment.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"PATIENT", "STATUS", "RETRIES", "STAFF", "BOOKING", "REASON", "TRIGGERED", "MS"})
	for _, ev := range events {
		tw.AppendRow(table.Row{
			ev.PatientID,
			ev.Status,
			ev.RetryCount,
			optionalID(ev.AssignedStaffID),
			optionalID(ev.BookingID),
			optionalString(ev.FailureReason),
			ev.TriggeredAt.Format(time.RFC3339),
			optionalInt(ev.ExecutionTimeMS),
		})
	}
	tw.Render()
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func optionalString(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func optionalInt(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.SetTitle("schema " + schema)
				tw.AppendHeader(table.Row{"VERSION", "NAME", "STATUS", "APPLIED AT"})
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					tw.AppendRow(table.Row{s.Version, s.Name, status, appliedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(statusCmd)

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	}
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if schema == "" {
		schema = cfg.DBSchema
	}

	var files fs.FS = migrations.FS
	if dir != "" {
		files = os.DirFS(dir)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, files), schema)
}

// newRouter builds the echo instance used by serve.
func newRouter(a *app, timeout time.Duration) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Middleware("quickassign/http"))
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(timeout))

	e.GET("/health", db.HealthHandler(a.pool, a.checks()...))

	apiV1 := e.Group("/api/v1")
	if cfg.AuthSigning == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigning),
		}))
	}

	assignment.NewHandler(a.events, a.trigger).RegisterRoutes(apiV1)
	return e
}

func runServer(timeout time.Duration) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	e := newRouter(a, timeout)

	addr := ":" + a.cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func runWorker(prefetch int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.publisher == nil {
		return errors.New("worker requires RABBIT_URL")
	}

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		URL:      a.cfg.RabbitURL,
		Topology: topology(a.cfg),
		Prefetch: prefetch,
		Tag:      "quickassign-worker",
	}, a.logger,
		queue.WithHandler(queue.RoutingAttempt, a.orchestrator.AttemptAssignment),
		queue.WithHandler(queue.RoutingPatientCreated, a.trigger.OnPatientCreated),
		queue.WithPermanentErrors(identity.ErrPatientNotFound),
	)
	if err := consumer.Connect(); err != nil {
		return err
	}
	defer consumer.Close()

	err = consumer.Run(ctx)
	a.logger.Info().Msg("worker stopped")
	return err
}
