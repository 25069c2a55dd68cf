package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camrelay/camrelay/internal/capture"
	"github.com/camrelay/camrelay/internal/capture/index"
	"github.com/camrelay/camrelay/internal/config"
	"github.com/camrelay/camrelay/internal/gateway"
	"github.com/camrelay/camrelay/internal/relay"
	"github.com/camrelay/camrelay/internal/server"
)

func newServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the relay (HTTP pages, WebSocket relay and capture downloads)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	serveCmd.Flags().String("listen", "", "HTTP/WebSocket listen address (default :3000, PORT env overrides the port)")
	serveCmd.Flags().String("grpc-listen", "", "Enable the gRPC health listener on this address")
	serveCmd.Flags().String("static-dir", "", "Directory with admin.html, client.html and other front-end assets")
	return serveCmd
}

// loadConfig reads --config and applies the flag overrides shared by all commands.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	overrides := map[string]*string{
		"data-dir":    &cfg.DataDir,
		"listen":      &cfg.Listen,
		"grpc-listen": &cfg.GRPCListen,
		"static-dir":  &cfg.StaticDir,
	}
	for name, target := range overrides {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		*target = flag.Value.String()
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	paths := cfg.Paths()
	if err := config.EnsureDirs(paths); err != nil {
		return fmt.Errorf("failed to prepare directories: %w", err)
	}

	logFile, err := setupLogging(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	} else {
		defer logFile.Close()
	}

	idx, err := index.Open(index.Options{Path: paths.IndexDB})
	if err != nil {
		return fmt.Errorf("failed to open capture index: %w", err)
	}
	defer idx.Close()

	store, err := capture.New(capture.Options{
		Dir:             paths.Captures,
		Location:        cfg.Location(),
		TimestampLayout: cfg.TimestampLayout,
		Recorder:        idx,
	})
	if err != nil {
		return fmt.Errorf("failed to open capture store: %w", err)
	}

	registry := relay.NewRegistry()
	supervisor := relay.NewSupervisor(registry, store)

	wsServer := server.NewServer(supervisor, server.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		OriginAllowed:   server.OriginChecker(cfg.AllowedOrigins),
	})
	go wsServer.Run()
	defer wsServer.Close()

	_, port, _ := net.SplitHostPort(cfg.Listen)
	handler := server.NewHandler(server.HandlerOptions{
		WebSocket: wsServer,
		Registry:  registry,
		Captures:  store,
		Index:     idx,
		StaticDir: paths.Static,
		Port:      port,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := gateway.New(handler, gateway.Options{Listen: cfg.Listen, GRPCListen: cfg.GRPCListen})
	info, err := gw.Start(ctx)
	if err != nil {
		return err
	}
	printBanner(info, paths)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
	case err, ok := <-gw.Errors():
		if ok && err != nil {
			log.Printf("Gateway error: %v", err)
			runErr = err
		}
	}

	wsServer.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Relay stopped")
	return runErr
}

func setupLogging(paths config.Paths) (io.Closer, error) {
	logPath := filepath.Join(paths.Logs, "relay.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== Camera relay starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return logFile, nil
}

func printBanner(info *gateway.Info, paths config.Paths) {
	base := fmt.Sprintf("http://localhost:%d", info.HTTP.Port)
	rule := strings.Repeat("=", 50)

	log.Println(rule)
	log.Printf("Relay listening on %s", info.HTTP.Address)
	log.Printf("Control panel: %s/admin", base)
	log.Printf("Camera page:   %s/client", base)
	if info.GRPC != nil {
		log.Printf("gRPC health:   %s", info.GRPC.Address)
	}
	log.Printf("Captures:      %s", paths.Captures)
	log.Println(rule)
}
