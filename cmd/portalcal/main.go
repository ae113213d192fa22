package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"portalcal/internal/capture"
	"portalcal/internal/config"
	"portalcal/internal/fetch"
	"portalcal/internal/ics"
	appLog "portalcal/internal/log"
	"portalcal/internal/portal"
	"portalcal/internal/refresh"
	"portalcal/internal/schedule"
	"portalcal/internal/store"
	"portalcal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	snapshot   bool
}

func main() {
	flags := parseFlags()

	// A missing .env is normal in production; the token can come from the
	// real environment.
	if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("failed to load env file", "path", flags.envFile, "err", err.Error())
	}

	appLog.Info("portalcal starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.snapshot {
		conf.Snapshot.Enabled = true
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if err := run(conf, flags); err != nil {
		appLog.Error("portalcal failed", err)
		os.Exit(1)
	}
	appLog.Info("portalcal exiting")
}

func run(conf *config.Config, flags flagConfig) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}
	holidays, err := conf.HolidayList()
	if err != nil {
		return err
	}
	var term *schedule.Term
	if t, ok, err := conf.TermRange(); err != nil {
		return err
	} else if ok {
		term = &t
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"api", fetch.RedactURL(conf.API.BaseURL),
		"schedules", len(conf.Schedules),
		"feeds", len(conf.Feeds),
		"holidays", len(holidays),
		"data_dir", conf.DataDir,
		"snapshot", conf.Snapshot.Enabled,
		"once", flags.once,
	)

	if err := os.MkdirAll(conf.DataDir, 0o755); err != nil {
		return err
	}
	st, err := store.Open(filepath.Join(conf.DataDir, "portalcal.db"), loc)
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher := fetch.New(filepath.Join(conf.DataDir, "http-cache"), nil)
	client := portal.NewClient(conf.API.BaseURL, portal.EnvToken(conf.API.TokenEnv), fetcher)

	feeds := make([]ics.Source, 0, len(conf.Feeds))
	for _, f := range conf.Feeds {
		feeds = append(feeds, ics.Source{ID: f.ID, URL: f.URL})
	}

	job := &refresh.Job{
		Portal:    client,
		Store:     st,
		Fetcher:   fetcher,
		Feeds:     feeds,
		StudentID: conf.API.StudentID,
		Schedules: conf.Schedules,
		Term:      term,
		Holidays:  holidays,
		Location:  loc,
	}

	srv := web.NewServer(st, web.Options{
		Location:     loc,
		Palette:      conf.Colors(),
		BasicAuth:    conf.BasicAuth,
		PreviewPath:  previewPath(conf),
		PerPage:      conf.AttendancePerPage,
		CalendarName: "Class calendar",
		Refresher:    job,
	})

	captureOpts := capture.Options{
		URL:        localURL(conf.Listen) + "/calendar",
		OutputPath: conf.Snapshot.Path,
		Width:      conf.Snapshot.Width,
		Height:     conf.Snapshot.Height,
	}
	if conf.BasicAuth != nil {
		captureOpts.Username = conf.BasicAuth.Username
		captureOpts.Password = conf.BasicAuth.Password
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	captures := make(chan struct{}, 1)
	job.OnSuccess = func(context.Context, store.Refresh) {
		srv.Invalidate()
		if !conf.Snapshot.Enabled {
			return
		}
		// coalesce: one pending capture is enough
		select {
		case captures <- struct{}{}:
		default:
		}
	}

	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		return err
	}
	go func() {
		appLog.Info("http server listening", "addr", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("http server failed", err)
			cancel()
		}
	}()
	defer shutdown(httpSrv)

	if flags.once {
		if _, err := job.Run(ctx); err != nil {
			return err
		}
		if conf.Snapshot.Enabled {
			return capture.CalendarPNG(ctx, captureOpts)
		}
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-captures:
				if err := capture.CalendarPNG(ctx, captureOpts); err != nil {
					appLog.Error("calendar capture failed", err, "url", captureOpts.URL)
				}
			}
		}
	}()

	sched, err := refresh.NewScheduler(conf.RefreshCron, loc, job, 2*time.Minute)
	if err != nil {
		return err
	}
	sched.Start()

	// Prime the store so the first page view is not empty.
	go func() {
		if _, err := job.Run(ctx); err != nil && !errors.Is(err, refresh.ErrBusy) {
			appLog.Warn("initial refresh failed", "err", err.Error())
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	sched.Stop(stopCtx)
	return nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("http server shutdown failed", err)
	}
}

func previewPath(conf *config.Config) string {
	if !conf.Snapshot.Enabled {
		return ""
	}
	return conf.Snapshot.Path
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/portalcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Path to a .env file with the portal token")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh (and capture, if enabled) and exit")
	flag.BoolVar(&cfg.snapshot, "snapshot", false, "Capture a PNG of the calendar after each refresh")

	flag.Parse()

	return cfg
}
