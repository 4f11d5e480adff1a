package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/example/billsscan/internal/scanning"
	"github.com/example/billsscan/internal/ticket"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("billsscan")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "billsscan.db", "Ticket cache file path")
		storagePath = fs.StringLong("storage", "./receipts", "Receipt image directory path")
		remoteURL   = fs.StringLong("remote-url", "", "Remote ticket store base URL (empty runs offline)")
		parserType  = fs.StringLong("parser", "http", "Parser backend: 'http' or 'gemini'")
		parserURL   = fs.StringLong("parser-url", "http://localhost:5000", "Parsing backend base URL")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILLSSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Local cache: the offline source of truth
	slog.Info("Opening ticket cache...", "path", *dbPath)
	cache, err := ticket.NewBoltCache(*dbPath)
	if err != nil {
		slog.Error("Failed to open ticket cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	// Remote store is optional; without it the app runs purely offline
	var remote ticket.RemoteStore
	if *remoteURL != "" {
		slog.Info("Using remote ticket store", "url", *remoteURL)
		rest, err := ticket.NewRESTStore(*remoteURL)
		if err != nil {
			slog.Error("Failed to configure remote store", "error", err)
			os.Exit(1)
		}
		remote = rest
	} else {
		slog.Info("No remote store configured, running offline")
	}

	// The repository publishes cached tickets immediately; the initial
	// reconciliation with the remote store runs detached.
	repo := ticket.NewRepository(cache, remote, slog.Default())
	go func() {
		if err := repo.Refresh(context.Background()); err != nil {
			slog.Warn("Initial refresh failed, continuing with cached tickets", "error", err)
		}
	}()

	var parser scanning.Parser
	switch *parserType {
	case "http":
		slog.Info("Initializing HTTP parser...", "url", *parserURL)
		parser, err = scanning.NewHTTPParser(*parserURL)
		if err != nil {
			slog.Error("Failed to initialize HTTP parser", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini parser...", "model", *geminiModel)
		parser, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid parser type", "type", *parserType, "valid", "http or gemini")
		os.Exit(1)
	}
	defer parser.Close()

	slog.Info("Initializing image storage...", "path", *storagePath)
	store, err := ticket.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := ticket.NewService(repo, parser, store)

	basicAuth := ticket.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := ticket.NewServer(service, repo, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
