package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/fiscal-qa/api"
	"github.com/fabfab/fiscal-qa/chat"
	"github.com/fabfab/fiscal-qa/config"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	verbose    bool
	confirm    bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fiscal-qa",
	Short: "Answer questions about budget justification documents",
	Long: `fiscal-qa indexes a directory of budget justification documents into a
vector store and answers questions grounded on the most similar passages.

Answers to budget questions are checked for fiscal-year figures and always
carry a note that they are derived from the available documents.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Load()
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = newLogger(cfg.LogLevel, verbose)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the configured index and report its size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		index, err := a.service.Index(ctx)
		if err != nil {
			return err
		}

		stored, err := storedChunks(ctx, a.store, index, logger)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "index %s: %d documents, %d chunks, %d stored (size %d, overlap %d)\n",
			index.ID, index.Documents, index.Chunks, stored, index.ChunkSize, index.ChunkOverlap)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question",
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		if strings.TrimSpace(question) == "" {
			fmt.Fprint(cmd.OutOrStdout(), "Type your query: ")
			scanner := bufio.NewScanner(cmd.InOrStdin())
			if scanner.Scan() {
				question = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read question: %w", err)
			}
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		resp, err := a.service.Answer(ctx, question)
		if err != nil {
			return err
		}

		printResponse(cmd, resp)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the index, then serve the HTTP API and query page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if _, err := a.service.Index(ctx); err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.New(a.service, logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("serving", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the configured index from the vector store and the graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirm {
			return fmt.Errorf("refusing to drop index %s without --confirm", cfg.Index.ID)
		}

		ctx, cancel := signalContext()
		defer cancel()

		b, err := openBackends(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close(ctx)

		if err := b.store.Drop(ctx, cfg.Index.ID); err != nil {
			return fmt.Errorf("drop index %s: %w", cfg.Index.ID, err)
		}
		if b.graph != nil {
			if err := b.graph.Purge(ctx, cfg.Index.ID); err != nil {
				return fmt.Errorf("purge graph for %s: %w", cfg.Index.ID, err)
			}
		}

		logger.Info("index cleared", zap.String("index", cfg.Index.ID))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	clearCmd.Flags().BoolVar(&confirm, "confirm", false, "confirm dropping the index")

	rootCmd.AddCommand(indexCmd, askCmd, serveCmd, clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printResponse(cmd *cobra.Command, resp chat.Response) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Answer)
	if len(resp.Sources) == 0 {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Sources:")
	for idx, source := range resp.Sources {
		page := ""
		if source.Page > 0 {
			page = fmt.Sprintf(", page %d", source.Page)
		}
		fmt.Fprintf(out, "%d. %s (%s%s) score %.3f\n", idx+1, source.Title, source.Path, page, source.Score)
		if source.Insight != nil && source.Insight.ChunkCount > 0 {
			fmt.Fprintf(out, "   Indexed chunks: %d\n", source.Insight.ChunkCount)
		}
	}
}
