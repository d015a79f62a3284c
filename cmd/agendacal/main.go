package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"

	"agendacal/internal/agenda"
	"agendacal/internal/capture"
	"agendacal/internal/config"
	"agendacal/internal/ics"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/store"
	"agendacal/internal/store/icsstore"
	"agendacal/internal/store/sqlstore"
	"agendacal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	capture    bool
	importOnly bool
	date       string
}

func main() {
	appLog.Info("agendacal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	level, ok := appLog.ParseLevel(conf.LogLevel)
	if !ok {
		appLog.Warn("unknown log level, using info", "log_level", conf.LogLevel)
	}
	appLog.SetLevel(level)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone", err)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"store", conf.Store.Driver,
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"capture", flags.capture,
		"import", flags.importOnly,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(conf, loc)
	if err != nil {
		appLog.Error("failed to open record store", err, "driver", conf.Store.Driver)
		os.Exit(1)
	}
	defer backend.Close()

	if err := backend.Sync(ctx); err != nil {
		appLog.Error("initial sync failed", err)
		if flags.importOnly {
			os.Exit(1)
		}
	}
	if flags.importOnly {
		return
	}

	start := model.DayIn(time.Now(), loc)
	if flags.date != "" {
		if start, err = model.ParseDay(flags.date); err != nil {
			appLog.Error("invalid -date", err, "date", flags.date)
			os.Exit(2)
		}
	}

	if flags.once {
		if err := printAgenda(ctx, color.Output, backend.Records, conf.WindowOptions(loc), start); err != nil {
			appLog.Error("agenda failed", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, conf, loc, backend, start, flags.capture); err != nil {
		appLog.Error("agendacal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("agendacal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./agendacal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Print the agenda around -date and exit")
	flag.BoolVar(&cfg.capture, "capture", false, "Capture /agenda as PNG after every refresh")
	flag.BoolVar(&cfg.importOnly, "import", false, "Sync ICS sources into the SQL store and exit")
	flag.StringVar(&cfg.date, "date", "", "Initial day (YYYY-MM-DD), default today")

	flag.Parse()

	return cfg
}

// serve runs the window loop, the HTTP server and the refresh schedule
// until ctx is cancelled.
func serve(ctx context.Context, conf *config.Config, loc *time.Location, backend *backend, start model.Day, doCapture bool) error {
	loop := agenda.NewLoop(256)
	win := agenda.New(agenda.Async(backend.Records, loop), conf.WindowOptions(loc))
	server := web.NewServer(conf, loop, win, conf.Capture.Output)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)
	defer func() {
		stopLoop()
		<-loop.Done()
	}()

	loop.Post(func() { win.GoTo(agenda.GoToRequest{Day: start}) })

	captureNow := func() {
		if !doCapture {
			return
		}
		err := capture.Agenda(ctx, capture.Options{
			URL:        agendaURL(conf),
			OutputPath: conf.Capture.Output,
			Width:      conf.Capture.Width,
			Height:     conf.Capture.Height,
		})
		if err != nil {
			appLog.Error("capture failed", err)
			return
		}
		appLog.Info("agenda captured", "path", conf.Capture.Output)
	}

	sched := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	_, err := sched.AddFunc(conf.RefreshCron, func() {
		if err := backend.Sync(ctx); err != nil {
			appLog.Error("scheduled sync failed", err)
		}
		loop.Post(func() { win.Refresh(true) })
		captureNow()
	})
	if err != nil {
		return fmt.Errorf("refresh schedule %q: %w", conf.RefreshCron, err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ctx) }()
	go captureNow()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
		err = <-errCh
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if cerr := loop.Call(closeCtx, win.Close); cerr != nil && !errors.Is(cerr, agenda.ErrClosed) {
		appLog.Warn("window close timed out", "err", cerr.Error())
	}
	return err
}

// agendaURL is the page capture loads, with basic auth credentials when the
// server requires them.
func agendaURL(conf *config.Config) string {
	u := url.URL{Scheme: "http", Host: conf.Listen, Path: "/agenda"}
	if conf.BasicAuth != nil && conf.BasicAuth.Username != "" {
		u.User = url.UserPassword(conf.BasicAuth.Username, conf.BasicAuth.Password)
	}
	return u.String()
}

// printAgenda loads the window around start synchronously and prints the
// rows it holds.
func printAgenda(ctx context.Context, w io.Writer, st store.RecordStore, opts agenda.Options, start model.Day) error {
	win := agenda.New(agenda.Inline(st), opts)
	defer win.Close()

	shift := 0
	win.AddListener(agenda.ListenerFunc(func(c agenda.Change) { shift += c.Shift }))
	win.GoTo(agenda.GoToRequest{Day: start})
	if win.Stats().Unavailable {
		return store.ErrStoreUnavailable
	}

	n := win.RowCount()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := win.RowAt(i + shift)
		if err != nil {
			break
		}
		fmt.Fprintln(w, formatRow(v))
	}
	return nil
}

var (
	headerStyle   = color.New(color.Bold)
	todayStyle    = color.New(color.Bold, color.FgRed)
	pastStyle     = color.New(color.Faint)
	declinedStyle = color.New(color.Faint, color.CrossedOut)
)

func formatRow(v agenda.RowView) string {
	if v.Kind == agenda.RowDayHeader {
		if v.Today {
			return todayStyle.Sprintf("== %s %s (today) ==", v.Day, weekday(v.Day))
		}
		return headerStyle.Sprintf("== %s %s ==", v.Day, weekday(v.Day))
	}
	rec := v.Record
	when := "all day    "
	if !rec.AllDay {
		when = fmt.Sprintf("%02d:%02d-%02d:%02d", v.StartMinute/60, v.StartMinute%60, v.EndMinute/60, v.EndMinute%60)
	}
	line := fmt.Sprintf("  %s  %s", when, rec.Title)
	if rec.Location != "" {
		line += " @ " + rec.Location
	}
	if rec.SelfAttendeeStatus != model.StatusNone {
		line += " [" + rec.SelfAttendeeStatus.String() + "]"
	}
	switch {
	case rec.SelfAttendeeStatus == model.StatusDeclined:
		return declinedStyle.Sprint(line)
	case v.Past:
		return pastStyle.Sprint(line)
	}
	return line
}

func weekday(d model.Day) string {
	return d.Midnight(time.UTC).Weekday().String()[:3]
}

// backend is the configured record store plus how to refresh it from the
// ICS sources.
type backend struct {
	Records store.RecordStore
	ics     *icsstore.Store
	sql     *sqlstore.Store
	conf    *config.Config
	loc     *time.Location
}

func openBackend(conf *config.Config, loc *time.Location) (*backend, error) {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.ID, Name: c.Name, URL: c.URL, Color: c.Color})
	}
	b := &backend{
		ics:  icsstore.New(ics.NewFetcher(conf.Store.CacheDir), sources, conf.SelfEmails, loc),
		conf: conf,
		loc:  loc,
	}
	if conf.Store.Driver == "ics" {
		b.Records = b.ics
		return b, nil
	}
	s, err := sqlstore.Open(conf.Store.Driver, conf.Store.DSN)
	if err != nil {
		return nil, err
	}
	b.sql, b.Records = s, s
	return b, nil
}

// Sync reloads the ICS sources and, for SQL backends, copies the import
// range into the table. A SQL backend without sources serves what the
// table already holds.
func (b *backend) Sync(ctx context.Context) error {
	if len(b.conf.ICS) == 0 {
		if b.sql != nil {
			return nil
		}
		return store.ErrStoreUnavailable
	}
	reloadErr := b.ics.Reload(ctx)
	if b.sql == nil {
		return reloadErr
	}
	if reloadErr != nil {
		if b.ics.LoadedAt().IsZero() {
			return reloadErr
		}
		appLog.Error("some ICS sources failed, importing the rest", reloadErr)
	}

	today := model.DayIn(time.Now(), b.loc)
	from := today - model.Day(b.conf.Store.ImportPastDays)
	to := today + model.Day(b.conf.Store.ImportFutureDays)
	n, err := b.sql.ImportFrom(ctx, b.ics, from, to)
	if err != nil {
		return err
	}
	appLog.Info("ics import finished", "records", n, "from", from.String(), "to", to.String())
	return nil
}

func (b *backend) Close() {
	if b.sql != nil {
		if err := b.sql.Close(); err != nil {
			appLog.Error("failed to close store", err)
		}
	}
}

// cronLogger routes cron's own messages into the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
