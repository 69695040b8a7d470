package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/learniverse/chatkit/internal/config"
	"github.com/learniverse/chatkit/internal/connection"
	"github.com/learniverse/chatkit/internal/conversation"
	"github.com/learniverse/chatkit/internal/rest"
	"github.com/learniverse/chatkit/internal/stats"
	"github.com/learniverse/chatkit/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

var (
	token       string
	baseURL     string
	wsURL       string
	metricsAddr string
)

// terminalSink renders view effects as terminal output.
type terminalSink struct {
	logger *log.Logger
}

func (s *terminalSink) ScrollToBottom() {}

func (s *terminalSink) RestoreAnchor(messageId string) {}
func (s *terminalSink) IncrementUnread() {
	s.logger.Println("new message above")
}

func main() {
	flag.StringVar(&token, "token", "", "bearer token (overrides CHATKIT_TOKEN)")
	flag.StringVar(&baseURL, "base-url", "", "chat backend base url")
	flag.StringVar(&wsURL, "ws-url", "", "realtime websocket url")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "prometheus listen address, empty to disable")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatkit] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config:", err)
	}
	if token != "" {
		cfg.API.Token = token
	}
	if baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if wsURL != "" {
		cfg.Connection.URL = wsURL
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if cfg.API.Token == "" {
		logger.Fatal("a bearer token is required (-token or CHATKIT_TOKEN)")
	}

	registry := prometheus.NewRegistry()
	statsUpdater := stats.NewStatsUpdater(registry)

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			logger.Printf("metrics listening on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Println("metrics server:", err)
			}
		}()
	}

	apiClient := rest.NewClient(cfg.API.BaseURL, cfg.API.Token, logger, statsUpdater)

	manager := connection.NewManager(connection.Config{
		URL:                  cfg.Connection.URL,
		ReconnectDelay:       cfg.Connection.ReconnectDelay,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
	}, connection.NewWSTransport(), logger, statsUpdater)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Connect(ctx, cfg.API.Token); err != nil {
		logger.Fatal("connect:", err)
	}
	defer manager.Disconnect()

	controller := conversation.NewController(
		apiClient,
		&terminalSink{logger: logger},
		logger,
		cfg.View.PageSize,
		rate.Every(cfg.View.LoadOlderCooldown),
	)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Printf("received signal: %s", sig)
		cancel()
		os.Stdin.Close()
	}()

	runPrompt(ctx, logger, apiClient, manager, controller)

	logger.Println("shutdown complete")
}

func runPrompt(ctx context.Context, logger *log.Logger, apiClient *rest.Client, manager *connection.Manager, controller *conversation.Controller) {
	var roomSub *connection.Subscription

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: /rooms, /open <id>, /older, /upload <path>, /quit; anything else sends")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit":
			return

		case "/rooms":
			rooms, err := apiClient.ListChats(ctx)
			if err != nil {
				logger.Println("list rooms:", err)
				continue
			}
			for _, r := range rooms {
				fmt.Printf("%s  %s (unread %d)\n", r.Id, r.Name, r.UnreadCount)
			}

		case "/open":
			if arg == "" {
				fmt.Println("usage: /open <room id>")
				continue
			}
			if roomSub != nil {
				roomSub.Unsubscribe()
				roomSub = nil
			}
			if err := controller.Open(ctx, arg); err != nil {
				logger.Println("open:", err)
				continue
			}
			sub, err := manager.SubscribeMessages(arg, controller.OnPush)
			if err != nil {
				logger.Println("subscribe:", err)
			} else {
				roomSub = sub
			}
			printMessages(controller.Messages())

		case "/older":
			if err := controller.LoadOlder(ctx); err != nil {
				logger.Println("load older:", err)
				continue
			}
			printMessages(controller.Messages())

		case "/upload":
			if arg == "" || controller.RoomId() == "" {
				fmt.Println("usage: /upload <path> (with a room open)")
				continue
			}
			f, err := os.Open(arg)
			if err != nil {
				logger.Println("open file:", err)
				continue
			}
			msg, err := apiClient.UploadFile(ctx, rest.UploadRequest{
				ChatRoomId:  controller.RoomId(),
				FileName:    filepath.Base(arg),
				File:        f,
				MessageType: types.MessageTypeFile,
			}, func(percent int) { fmt.Printf("\rupload %d%%", percent) })
			f.Close()
			fmt.Println()
			if err != nil {
				logger.Println("upload:", err)
				continue
			}
			controller.OnPush(msg)

		default:
			if _, err := controller.Send(ctx, types.SendMessageRequest{
				MessageType: types.MessageTypeText,
				TextContent: line,
			}); err != nil {
				logger.Println("send:", err)
			}
		}
	}
}

func printMessages(messages []types.Message) {
	for _, m := range messages {
		fmt.Printf("[%s] %s: %s\n", m.SendAt.Format("15:04:05"), m.SenderName, m.TextContent)
	}
}
