package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"agenda/internal/calendar"
	"agenda/internal/config"
	"agenda/internal/ics"
	appLog "agenda/internal/log"
	"agenda/internal/reminder"
	"agenda/internal/store"
	"agenda/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	checkOnce  bool
}

func main() {
	flags := parseFlags()

	// A missing .env file is normal in production.
	if err := godotenv.Load(flags.envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Error("failed to read env file", err, "path", flags.envPath)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(os.LookupEnv); err != nil {
		appLog.Error("invalid environment override", err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.SetLevel(appLog.Level(conf.Log.Level))
	appLog.SetFormat(conf.Log.Format)
	appLog.Info("agenda starting", "version", version)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"database", conf.DatabasePath,
		"max_occurrences_per_task", conf.MaxOccurrencesPerTask,
		"max_range_days", conf.MaxRangeDays,
		"reminder_cron", conf.ReminderCron,
		"basic_auth", conf.BasicAuth != nil,
		"telegram", conf.Telegram != nil,
	)

	st, err := store.New(conf.DatabasePath)
	if err != nil {
		appLog.Error("failed to open database", err, "path", conf.DatabasePath)
		os.Exit(1)
	}
	defer st.Close()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	notifier, err := buildNotifier(conf)
	if err != nil {
		appLog.Error("failed to set up notifier", err)
		os.Exit(1)
	}
	sched := reminder.New(st, notifier, conf.ReminderCron, loc)

	if flags.checkOnce {
		n, err := sched.CheckDue(ctx)
		if err != nil {
			appLog.Error("reminder check failed", err)
			os.Exit(1)
		}
		appLog.Info("reminder check done", "notified", n)
		return
	}

	if err := sched.Start(); err != nil {
		appLog.Error("failed to start reminder scheduler", err, "spec", conf.ReminderCron)
		os.Exit(1)
	}
	defer sched.Stop()

	cal := calendar.NewService(ctx, st, calendar.Options{
		Location:              loc,
		DefaultColor:          conf.DefaultColor,
		MaxOccurrencesPerTask: conf.MaxOccurrencesPerTask,
	})
	fetcher := ics.NewFetcher(conf.ImportCacheDir)

	srv := web.NewServer(conf, loc, st, cal, fetcher)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("http server failed", err, "listen", conf.Listen)
		cancel()
		return
	}
	appLog.Info("agenda exiting")
}

// buildNotifier always logs reminders and also sends them to Telegram
// when a bot is configured.
func buildNotifier(conf *config.Config) (reminder.Notifier, error) {
	if conf.Telegram == nil {
		return reminder.Default(nil), nil
	}
	tg, err := reminder.NewTelegramNotifier(conf.Telegram.Token, conf.Telegram.ChatID)
	if err != nil {
		return nil, err
	}
	return reminder.Default(tg), nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./agenda.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Path to an optional .env file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.checkOnce, "check-reminders", false, "Deliver due reminders once and exit")

	flag.Parse()

	return cfg
}
