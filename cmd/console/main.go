// agentwire console - interactive terminal client for agent sessions
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agentwire/internal/client"
	"agentwire/internal/config"
	"agentwire/internal/view"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	resume := flag.String("session", "", "session id to resume (default: start a new session)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(client.Options{
		ServerURL:      cfg.ServerURL,
		ConnectTimeout: cfg.ConnectTimeout,
		SettleDelay:    cfg.SettleDelay,
		ClearGrace:     cfg.ClearGrace,
		OnUpdate:       render,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "client setup failed:", err)
		os.Exit(1)
	}
	defer c.Close()

	var sessionID string
	if *resume != "" {
		sessionID, err = c.Resume(ctx, *resume)
	} else {
		sessionID, err = c.Connect(ctx)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect failed:", err)
		os.Exit(1)
	}
	fmt.Printf("connected to session %s\n", sessionID)
	fmt.Println("type a task, /history to show stored messages, /quit to exit")

	// Heartbeat keeps idle connections alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Ping(ctx); err != nil {
					slog.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nbye")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
			case text == "/quit":
				return
			case text == "/history":
				showHistory(ctx, c)
			default:
				if err := c.Send(ctx, text); err != nil {
					fmt.Fprintln(os.Stderr, "send failed:", err)
				}
			}
		}
	}
}

func showHistory(ctx context.Context, c *client.SessionClient) {
	conv, err := c.History(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history fetch failed:", err)
		return
	}
	for _, msg := range conv.Messages {
		fmt.Printf("  [%s] %s\n", msg.Role, msg.Content)
	}
}

// render repaints the conversation state after every change.
func render(v view.View) {
	if len(v.Messages) > 0 {
		last := v.Messages[len(v.Messages)-1]
		fmt.Printf("[%s] %s\n", last.Role, last.Content)
	}
	if v.ShowTimeline {
		for _, rec := range v.Records {
			marker := " "
			if rec.Completed {
				marker = "x"
			}
			fmt.Printf("  [%s] %s\n", marker, rec.Message)
		}
		if v.Progress > 0 {
			fmt.Printf("  progress: %.0f%%\n", v.Progress*100)
		}
	}
	if v.PendingPrompt != nil {
		fmt.Printf("? %s\n", v.PendingPrompt.Content)
	}
	if v.ShowViewport {
		fmt.Printf("  viewport: %s\n", v.ViewportURL)
	}
}
