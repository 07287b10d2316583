package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/gateway"
	configx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/config"
	logx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/logger"
	_ "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/logger/autoload"
)

var envFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chative-shop",
		Short: "Conversational shopping assistant",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			configx.SetEnvFile(envFile)
			logCfg, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return err
			}
			logx.Init(*logCfg)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env", "", "path to .env file (default $ENV_FILE, then ./.env)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newChatCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the assistant over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			httpCfg, err := configx.New[gateway.Config]("HTTP")
			if err != nil {
				return fmt.Errorf("load http config: %w", err)
			}
			return gateway.New(*httpCfg, a.orchestrator).Start(ctx)
		},
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the persisted catalog index from the catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig()
			if err != nil {
				return err
			}
			embedder, err := newEmbedder(*cfg, nil)
			if err != nil {
				return err
			}
			ix, err := rebuildIndex(cmd.Context(), *cfg, embedder)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d products into %s\n", ix.Len(), cfg.IndexDir)
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return chatLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), func(ctx context.Context, text string) (string, error) {
				return a.orchestrator.HandleMessage(ctx, sessionID, text)
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to resume (default: new session)")
	return cmd
}

// chatLoop reads one message per line until EOF or "exit".
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, handle func(context.Context, string) (string, error)) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "You: ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		switch {
		case text == "":
		case strings.EqualFold(text, "exit"), strings.EqualFold(text, "quit"):
			return nil
		default:
			reply, err := handle(ctx, text)
			if err != nil {
				log.Error().Err(err).Msg("chat turn failed")
				fmt.Fprintln(out, "Assistant: Sorry, something went wrong. Please try again.")
			} else {
				fmt.Fprintf(out, "Assistant: %s\n", reply)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "You: ")
	}
	return scanner.Err()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
