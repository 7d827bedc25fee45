package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"h2s_notifier/config"
	"h2s_notifier/httputil"
	"h2s_notifier/lock"
	"h2s_notifier/logging"
	"h2s_notifier/models"
	"h2s_notifier/notify"
	"h2s_notifier/scheduler"
	"h2s_notifier/scraper"
	"h2s_notifier/storage"
)

var (
	runOnce    = flag.Bool("once", false, "Run every group once and exit")
	configPath = flag.String("config", "", "Path to the notification group file (default $CONFIG_PATH or config.yaml)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		reportStartupFailure(err)
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.Log.File, cfg.Log.MaxBytes)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting h2s_notifier...")
	log.Printf("Loaded %d notification groups", len(cfg.Groups))
	for _, g := range cfg.Groups {
		log.Printf("  - %s: %d cities", g.Name, len(g.Cities))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients, err := httputil.NewClients(cfg.Scraper.ProxyURL)
	if err != nil {
		log.Fatalf("Failed to build HTTP clients: %v", err)
	}

	store, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.DSN())
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer store.Close()
	log.Printf("Store: %s %s", cfg.Store.Driver, maskConnectionString(cfg.Store.DSN()))

	var locker lock.Locker
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, "h2s_notifier:", 0)
		log.Printf("Group locks: redis %s", maskConnectionString(cfg.RedisURL))
	}

	debug := notify.NewTelegram(clients.API, cfg.Telegram.APIURL, cfg.Telegram.APIKey, cfg.Telegram.DebugChatID)
	reporter := notify.MultiReporter{
		notify.LogReporter{},
		notify.NewStoreReporter(store),
		notify.NewChannelReporter(debug),
	}

	var transport scraper.Transport
	switch cfg.Scraper.Transport {
	case "browser":
		transport = scraper.NewBrowserTransport("", cfg.Scraper.Headless)
	default:
		transport = scraper.NewHTTPTransport(clients.Scraping)
	}
	defer transport.Close()
	source := scraper.NewHolland2Stay(transport, cfg.Scraper.Endpoint, cfg.Scraper.PageSize)

	subs := make([]scraper.Subscription, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		subs = append(subs, scraper.Subscription{
			Name:       g.Name,
			Cities:     g.Cities,
			Channel:    notify.NewTelegram(clients.API, cfg.Telegram.APIURL, cfg.Telegram.APIKey, g.ChatID),
			SendImages: g.SendImages,
		})
	}

	orchestrator := scraper.NewOrchestrator(source, store, locker, reporter, subs)
	orchestrator.SetConcurrency(cfg.Scraper.Concurrency)

	if *runOnce {
		log.Println("Running once...")
		run, err := orchestrator.RunAll(ctx)
		if err != nil {
			log.Fatalf("Run interrupted: %v", err)
		}
		log.Printf("Run complete: %s", run.Status)
		if run.Status == models.RunStatusFailed {
			os.Exit(1)
		}
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, orchestrator)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

// reportStartupFailure tells the debug chat that the process could not start,
// when enough of the environment is present to reach it.
func reportStartupFailure(err error) {
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		return
	}
	key, chat := os.Getenv("TELEGRAM_API_KEY"), os.Getenv("DEBUGGING_CHAT_ID")
	if key == "" || chat == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	debug := notify.NewTelegram(nil, os.Getenv("TELEGRAM_API_URL"), key, chat)
	notify.NewChannelReporter(debug).Report(ctx, models.Report{
		Kind:    models.ReportConfiguration,
		Message: "startup aborted",
		Err:     err,
	})
}

// maskConnectionString hides the password of a URL or key/value DSN.
func maskConnectionString(connStr string) string {
	if u, err := url.Parse(connStr); err == nil && u.User != nil {
		return u.Redacted()
	}
	fields := strings.Fields(connStr)
	masked := false
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=xxxxx"
			masked = true
		}
	}
	if !masked {
		return connStr
	}
	return strings.Join(fields, " ")
}
