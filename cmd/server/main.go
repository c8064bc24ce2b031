package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/config"
	"github.com/omochice/linkchat/internal/controller"
	"github.com/omochice/linkchat/internal/logging"
	"github.com/omochice/linkchat/internal/transport"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to a YAML config file")
	kind := flag.String("transport", "", "Transport: tcp, ws, unified or quic")
	service := flag.String("service", "", "Service id to listen under")
	listen := flag.String("listen", "", "Bind address for the service (e.g., :7070)")
	maxSessions := flag.Int("max-sessions", -1, "Concurrent sessions, 0 for unlimited, 1 for single-session mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *kind != "" {
		cfg.Transport.Kind = *kind
	}
	if *service != "" {
		cfg.ServiceID = *service
	}
	if *listen != "" {
		if cfg.Transport.Services == nil {
			cfg.Transport.Services = map[string]string{}
		}
		cfg.Transport.Services[cfg.ServiceID] = *listen
	}
	if *maxSessions >= 0 {
		cfg.Session.MaxSessions = *maxSessions
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Sync()

	tr, err := transport.New(cfg.Transport.Kind, cfg.Transport.Services, logger)
	if err != nil {
		logger.Fatal("failed to create transport", zap.Error(err))
	}
	ctrl, err := controller.New(tr, controller.Options{
		ServiceID: cfg.ServiceID,
		Session:   cfg.Session,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to create controller", zap.Error(err))
	}
	defer ctrl.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- ctrl.RunServer(cfg.ServiceID).Collect(ctx, printEvent)
	}()

	// Broadcast stdin lines to every connected client
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if handleCommand(ctrl, text) {
				continue
			}
			if n := ctrl.Broadcast(text); n == 0 {
				fmt.Println("*** no clients connected ***")
			}
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
			ctrl.Release()
			logger.Sync()
			os.Exit(1)
		}
	case sig := <-sigChan:
		logger.Info("shutting down", zap.Stringer("signal", sig))
		cancel()
		<-done
	}

	logger.Info("server stopped")
}

// handleCommand runs /sessions and /kick <id>. It reports whether text was
// a command.
func handleCommand(ctrl *controller.Controller, text string) bool {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/sessions":
		sessions := ctrl.Sessions()
		if len(sessions) == 0 {
			fmt.Println("*** no clients connected ***")
		}
		for _, s := range sessions {
			fmt.Printf("  %d  %s  %s  pending=%d\n", s.ID, s.Role, s.Remote, s.Pending)
		}
		return true
	case "/kick":
		if len(fields) != 2 {
			fmt.Println("usage: /kick <session id>")
			return true
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil || !ctrl.CloseSession(chat.SessionID(id)) {
			fmt.Printf("*** no session %s ***\n", fields[1])
		}
		return true
	}
	return false
}

func printEvent(ev chat.Event) {
	switch ev.Kind {
	case chat.EventEstablished:
		if ev.Session == 0 {
			fmt.Printf("*** listening on %s ***\n", ev.Text)
			return
		}
		fmt.Printf("*** %s connected ***\n", ev.Session)
	case chat.EventMessage:
		fmt.Printf("[%s]: %s\n", ev.Session, ev.Text)
	case chat.EventError:
		fmt.Printf("*** %s: %s ***\n", ev.Session, ev.Reason())
	}
}
