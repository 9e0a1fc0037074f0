// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
	"github.com/xkilldash9x/ideagraph/internal/llmclient"
	"github.com/xkilldash9x/ideagraph/internal/observability"
	"github.com/xkilldash9x/ideagraph/internal/session"
	"github.com/xkilldash9x/ideagraph/internal/store"
)

// Define function variables for dependency injection/mocking in tests.
var (
	newLLMClient = func(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
		return llmclient.NewRouterFromConfig(ctx, cfg, logger)
	}
	newSnapshotStore = store.New
)

// app carries the resolved configuration of one command invocation.
type app struct {
	cfgFile   string
	sessionID string
	cfg       *config.Config
	logger    *zap.Logger
}

// NewRootCommand builds a fresh command tree. The interactive shell builds
// one per line so flags never leak between commands.
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "ideagraph",
		Short:         "ideagraph grows a design-thinking idea map with an LLM.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, a.cfgFile); err != nil {
				basicLogger, _ := zap.NewDevelopment()
				defer basicLogger.Sync()
				basicLogger.Error("Failed to initialize configuration", zap.Error(err))
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "ideagraph"})
				return err
			}
			observability.InitializeLogger(cfg.Logger())

			a.cfg = cfg
			a.logger = observability.GetLogger()
			if a.sessionID == "" {
				a.sessionID = cfg.Store().DefaultSession
			}
			if err := store.ValidateSessionID(a.sessionID); err != nil {
				return err
			}
			a.logger.Debug("Starting ideagraph", zap.String("version", Version), zap.String("session_id", a.sessionID))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&a.sessionID, "session", "s", "", "session id (default is store.default_session)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newTopicCmd(a),
		newExpandCmd(a),
		newGenerateCmd(a),
		newRegenerateCmd(a),
		newAnalyzeCmd(a),
		newEditCmd(a),
		newAddCmd(a),
		newDeleteCmd(a),
		newReflectionCmd(a),
		newMoveCmd(a),
		newLayoutCmd(a),
		newShowCmd(a),
		newMetricsCmd(a),
		newSessionsCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Command aborted.")
			return err
		}
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("IDEAGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// -- Session plumbing --

// withSession loads the session, runs fn and saves the result. Read-only
// commands skip the save. The session is saved even when fn fails so that
// partial progress, such as a topic whose main step failed, is kept.
func (a *app) withSession(ctx context.Context, readOnly bool, fn func(ctx context.Context, sess *session.Session) error) error {
	st, err := newSnapshotStore(ctx, a.cfg.Store(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			a.logger.Warn("Failed to close snapshot store", zap.Error(cerr))
		}
	}()

	sess, err := a.loadSession(ctx, st)
	if err != nil {
		return err
	}

	runErr := fn(ctx, sess)
	if readOnly {
		return runErr
	}

	data, err := sess.Marshal()
	if err != nil {
		return errors.Join(runErr, err)
	}
	// Persist even when the operation was interrupted.
	if err := st.Save(context.WithoutCancel(ctx), a.sessionID, data); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to save session '%s': %w", a.sessionID, err))
	}
	return runErr
}

func (a *app) loadSession(ctx context.Context, st schemas.SnapshotStore) (*session.Session, error) {
	data, err := st.Load(ctx, a.sessionID)
	if errors.Is(err, schemas.ErrSnapshotNotFound) {
		a.logger.Info("Starting new session", zap.String("session_id", a.sessionID))
		return session.New(a.sessionID, a.cfg.Layout(), a.logger), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session '%s': %w", a.sessionID, err)
	}
	return session.Unmarshal(data, a.cfg.Layout(), a.logger)
}

// withLLM opens the configured client for the duration of fn.
func (a *app) withLLM(ctx context.Context, fn func(llm schemas.LLMClient) error) error {
	llm, err := newLLMClient(ctx, a.cfg.LLM(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	defer func() {
		if cerr := llm.Close(); cerr != nil {
			a.logger.Warn("Failed to close LLM client", zap.Error(cerr))
		}
	}()
	return fn(llm)
}

func parseNodeID(s string) (schemas.NodeID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid node id '%s'", s)
	}
	return schemas.NodeID(id), nil
}

func toNodeIDs(raw []int64) []schemas.NodeID {
	out := make([]schemas.NodeID, 0, len(raw))
	for _, id := range raw {
		out = append(out, schemas.NodeID(id))
	}
	return out
}

func parseCoordinate(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid coordinate '%s'", s)
	}
	return v, nil
}
