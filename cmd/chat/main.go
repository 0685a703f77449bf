// Command chat is a terminal client for the directory assistant. It sends
// the conversation through the endpoint fallback dispatcher.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
	"github.com/intelletix/sudbury-directory/internal/chatclient"
	"github.com/intelletix/sudbury-directory/internal/config"
	"github.com/intelletix/sudbury-directory/internal/domain"
)

var (
	oneShot string
	rawHTML bool
)

var rootCmd = &cobra.Command{
	Use:           "sudbury-chat",
	Short:         "Chat with the Sudbury Business Directory assistant",
	Long:          "Interactive client. Type a question, /reset to start over, /probe to test endpoints, /stats for attempt counts, /quit to leave.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := newDispatcher()
		if err != nil {
			return err
		}
		if oneShot != "" {
			return ask(cmd.Context(), d, oneShot, cmd.OutOrStdout())
		}
		return run(cmd.Context(), d, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&oneShot, "message", "m", "", "send one message and exit")
	rootCmd.Flags().BoolVar(&rawHTML, "html", false, "print sanitized HTML instead of plain text")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newDispatcher() (*chatclient.Dispatcher, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	logger := observability.SetupClientLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()
	return chatclient.NewFromConfig(cfg, chatclient.WithLogger(logger))
}

// ask sends a single message; a failed send is printed and returned.
func ask(ctx context.Context, d *chatclient.Dispatcher, content string, out io.Writer) error {
	msg, err := chatclient.NewSession(d).Send(ctx, content)
	if msg.Content != "" {
		printMessage(out, msg)
	}
	return err
}

func run(ctx context.Context, d *chatclient.Dispatcher, in io.Reader, out io.Writer) error {
	s := chatclient.NewSession(d)
	printMessage(out, s.Messages()[0])

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			s.Reset()
			printMessage(out, s.Messages()[0])
			continue
		case "/probe":
			fmt.Fprintln(out, formatProbe(d.Probe(ctx)))
			continue
		case "/stats":
			stats, err := formatAttempts(prometheus.DefaultGatherer)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			fmt.Fprintln(out, stats)
			continue
		}

		msg, err := s.Send(ctx, line)
		if errors.Is(err, context.Canceled) {
			return err
		}
		printMessage(out, msg)
	}
}

func printMessage(out io.Writer, m domain.Message) {
	prefix := "assistant"
	if m.IsError {
		prefix = "erreur"
	}
	fmt.Fprintf(out, "[%s %s] %s\n", m.Timestamp.Format("15:04"), prefix, render(m.Content))
}

func render(content string) string {
	if rawHTML {
		return chatclient.RenderHTML(content)
	}
	return chatclient.RenderText(content)
}
