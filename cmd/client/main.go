package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
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
	service := flag.String("service", "", "Service id to connect under")
	peerAddr := flag.String("peer", "", "Peer address (e.g., localhost or 192.168.1.10:7070)")
	peerName := flag.String("name", "", "Display name of the peer")
	flag.Parse()

	if *peerAddr == "" {
		log.Fatal("Peer address is required. Use -peer flag")
	}

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

	peer := chat.PeerID{Name: *peerName, Address: *peerAddr}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan chat.State, 1)
	go func() {
		var state chat.State
		state = state.Connect()
		fmt.Printf("*** connecting to %s ***\n", peer)
		_ = ctrl.RunClient(peer).Collect(ctx, func(ev chat.Event) {
			state = state.Apply(ev)
			switch ev.Kind {
			case chat.EventEstablished:
				fmt.Printf("*** connected to %s ***\n", peer)
			case chat.EventMessage:
				fmt.Printf("[%s]: %s\n", peer, ev.Text)
			case chat.EventError:
				fmt.Printf("*** %s ***\n", state.ErrorMessage)
			}
		})
		done <- state
	}()

	// Read stdin in the background so the loop below can also watch the run
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("error reading input", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Println("Type your messages (or 'quit' to exit):")
	for {
		select {
		case line, ok := <-lines:
			text := strings.TrimSpace(line)
			if !ok || text == "quit" || text == "exit" {
				cancel()
				<-done
				fmt.Println("Disconnected")
				return
			}
			if text == "" {
				continue
			}
			if !ctrl.SendToServer(text) {
				fmt.Println("*** not connected, message dropped ***")
			}
		case state := <-done:
			if state.ErrorMessage != "" {
				ctrl.Release()
				logger.Sync()
				os.Exit(1)
			}
			fmt.Println("Disconnected")
			return
		case sig := <-sigChan:
			logger.Info("shutting down", zap.Stringer("signal", sig))
			cancel()
			<-done
			return
		}
	}
}
