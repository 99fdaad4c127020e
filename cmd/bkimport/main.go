package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/config"
	"github.com/xxxsen/bkimport/internal/db"
	"github.com/xxxsen/bkimport/internal/handler"
	"github.com/xxxsen/bkimport/internal/middleware"
	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/jwt"
	"github.com/xxxsen/bkimport/internal/service"
)

const uploadRateLimit = 10 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "bkimport",
		Short: "bookmark import pipeline",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newWorkerCmd(&configPath),
		newImportCmd(&configPath),
		newStatusCmd(&configPath),
		newMigrateCmd(&configPath),
		newTokenCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "serve the import api, run workers and cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}
}

func runServer(a *app) error {
	cfg := a.cfg
	logger := logutil.GetLogger(context.Background())
	logger.Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("file_store", cfg.FileStore.Type),
		zap.Bool("worker_enabled", cfg.Worker.IsEnabled()),
	)

	deps := handler.RouterDeps{
		Imports:         handler.NewImportHandler(a.imports, cfg.MaxUploadSize),
		JWTSecret:       []byte(cfg.JWTSecret),
		UploadRateLimit: uploadRateLimit,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := a.newScheduler()
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if cfg.Worker.IsEnabled() {
		manager := a.newManager()
		manager.Start(ctx)
		defer manager.Stop()
	}

	logger.Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	return nil
}

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "run import workers only",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			manager := a.newManager()
			manager.Start(ctx)
			<-ctx.Done()
			logutil.GetLogger(context.Background()).Info("worker stopping...")
			manager.Stop()
			return nil
		},
	}
}

func newImportCmd(configPath *string) *cobra.Command {
	var (
		userID string
		format string
		file   string
		name   string
		rootID string
		start  bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "stage an export file as a new import session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || file == "" || format == "" {
				return fmt.Errorf("--user, --format and --file are required")
			}
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			session, err := a.imports.ImportFile(cmd.Context(), userID, service.ImportFileInput{
				CreateSessionInput: service.CreateSessionInput{Name: name, RootListID: rootID},
				Format:             format,
				FileName:           filepath.Base(file),
				Reader:             f,
				Size:               info.Size(),
				Start:              start,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s is %s\n", session.ID, session.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().StringVar(&format, "format", "", "source format (json, markdown, netscape)")
	cmd.Flags().StringVar(&file, "file", "", "path to the export file")
	cmd.Flags().StringVar(&name, "name", "", "session name, defaults to the file name")
	cmd.Flags().StringVar(&rootID, "root-list", "", "list every accepted bookmark is attached to")
	cmd.Flags().BoolVar(&start, "start", false, "start processing right away")
	return cmd
}

func newStatusCmd(configPath *string) *cobra.Command {
	var (
		sessionID string
		status    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show import session progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if sessionID == "" {
				st, err := model.ParseSessionStatus(status)
				if err != nil {
					return err
				}
				items, err := a.sessions.ListByStatus(ctx, st, limit)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintf(out, "no %s sessions\n", st)
					return nil
				}
				fmt.Fprintln(out, renderSessions(items))
				return nil
			}
			session, err := a.sessions.Get(ctx, sessionID)
			if err != nil {
				return err
			}
			progress, err := a.imports.Progress(ctx, session.UserID, sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderProgress(progress))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&status, "status", string(model.SessionRunning), "list sessions in this status when --session is empty")
	cmd.Flags().IntVar(&limit, "limit", 50, "max sessions to list")
	return cmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			conn, dialect, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			if err := db.ApplyMigrations(conn, dialect); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", dialect)
			return nil
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID   string
		ttlHours int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			if ttlHours <= 0 {
				ttlHours = cfg.JWTTTLHours
			}
			token, err := jwt.GenerateToken(userID, []byte(cfg.JWTSecret), time.Duration(ttlHours)*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id the token is issued for")
	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 0, "token lifetime, defaults to jwt_ttl_hours")
	return cmd
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
