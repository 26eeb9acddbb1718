package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hotpot/internal/config"
	"hotpot/internal/database"
	"hotpot/internal/filter"
	"hotpot/internal/gradient"
	"hotpot/internal/handlers"
	"hotpot/internal/ingest"
	"hotpot/internal/mask"
	"hotpot/internal/metrics"
	"hotpot/internal/render"
	"hotpot/internal/strava"
	"hotpot/internal/worker"
)

const usage = `Usage: hotpot <command> [options]

Commands:
  import <dir>    Import every GPX/TCX/FIT file under a directory
  render          Render a bounding box to a PNG file
  serve           Serve heatmap tiles over HTTP
  mask            Manage privacy masks (add, remove, list)
  strava-auth     Print the Strava authorization URL

Run 'hotpot <command> -h' for command options.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}

	var cmdErr error
	switch os.Args[1] {
	case "import":
		cmdErr = cmdImport(cfg, os.Args[2:])
	case "render":
		cmdErr = cmdRender(cfg, os.Args[2:])
	case "serve":
		cmdErr = cmdServe(cfg, os.Args[2:])
	case "mask":
		cmdErr = cmdMask(cfg, os.Args[2:])
	case "strava-auth":
		cmdErr = cmdStravaAuth(cfg, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if cmdErr != nil {
		fatal(cmdErr)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// cliLogger is a text handler for interactive commands.
func cliLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openDatabase(path string) (*database.DB, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func cmdImport(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DatabasePath, "database path")
	joinCSV := fs.String("join", "", "CSV file with extra properties keyed by filename")
	trimFlag := fs.Float64("trim", -1, "meters to trim from the start and end of each track (persisted, default keeps the stored value)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: hotpot import <dir> [--join CSV] [--trim METERS]")
	}
	dir := fs.Arg(0)

	logger := cliLogger(cfg)
	db, err := openDatabase(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	// The trim distance lives in the database so uploads trim the same
	// way later imports do.
	if *trimFlag >= 0 {
		if err := db.SetTrimDist(*trimFlag); err != nil {
			return err
		}
	}
	trimDist, err := db.TrimDist()
	if err != nil {
		return err
	}

	start := time.Now()
	stats, err := ingest.ImportDirectory(context.Background(), db, dir, ingest.Options{
		TrimDist: trimDist,
		JoinCSV:  *joinCSV,
		Progress: true,
	}, logger)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d activities in %s (%d skipped, %d failed)\n",
		stats.Imported.Load(), time.Since(start).Round(time.Millisecond),
		stats.Skipped.Load(), stats.Failed.Load())
	return nil
}

func cmdRender(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DatabasePath, "database path")
	boundsStr := fs.String("bounds", "", "west,south,east,north in degrees")
	width := fs.Int("width", 0, "output width in pixels")
	height := fs.Int("height", 0, "output height in pixels")
	output := fs.String("output", "", "output PNG path")
	colorName := fs.String("color", "", "gradient preset name")
	gradientSpec := fs.String("gradient", "", "gradient spec, e.g. 1:ff0000;255:ffffff")
	filterExpr := fs.String("filter", "", "property filter expression")
	fs.Parse(args)

	if *boundsStr == "" || *width == 0 || *height == 0 || *output == "" {
		return fmt.Errorf("usage: hotpot render --bounds W,S,E,N --width W --height H --output PATH")
	}

	bounds := strings.Split(*boundsStr, ",")
	if len(bounds) != 4 {
		return fmt.Errorf("bounds must be west,south,east,north")
	}
	coords := make([]float64, 4)
	for i, s := range bounds {
		var err error
		if coords[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return fmt.Errorf("invalid bounds value %q", s)
		}
	}

	opts := render.Options{Gradient: gradient.Default()}
	switch {
	case *colorName != "" && *gradientSpec != "":
		return fmt.Errorf("cannot specify both --color and --gradient")
	case *gradientSpec != "":
		g, err := gradient.Parse(*gradientSpec)
		if err != nil {
			return err
		}
		opts.Gradient = g
	case *colorName != "":
		g, err := gradient.Preset(*colorName)
		if err != nil {
			return err
		}
		opts.Gradient = g
	}

	f, err := filter.Parse(*filterExpr)
	if err != nil {
		return err
	}
	opts.Filter = f

	db, err := openDatabase(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	masks, err := mask.NewRegistry(db)
	if err != nil {
		return err
	}

	renderer := render.New(db, masks)
	png, err := renderer.RenderBounds(context.Background(),
		coords[0], coords[1], coords[2], coords[3], *width, *height, opts)
	if err != nil {
		return err
	}

	if err := os.WriteFile(*output, png, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *output, err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", *output, len(png))
	return nil
}

func cmdServe(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DatabasePath, "database path")
	host := fs.String("host", cfg.Host, "listen host")
	port := fs.Int("port", cfg.Port, "listen port")
	upload := fs.Bool("upload", false, "enable the upload endpoint")
	stravaWebhook := fs.Bool("strava-webhook", false, "enable the Strava webhook and OAuth routes")
	fs.Parse(args)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if *stravaWebhook {
		if err := cfg.ValidateStrava(); err != nil {
			return err
		}
	}

	db, err := openDatabase(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	masks, err := mask.NewRegistry(db)
	if err != nil {
		return err
	}

	var stravaClient *strava.Client
	if *stravaWebhook {
		stravaClient = strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, db, logger)
	}

	renderer := render.New(db, masks)
	server := handlers.NewServer(db, renderer, masks, stravaClient, cfg, handlers.Options{
		Upload: *upload,
		Strava: *stravaWebhook,
	}, logger)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *stravaWebhook {
		w := worker.NewWorker(db, stravaClient, 0, logger)
		go func() {
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("webhook worker failed", "error", err)
			}
		}()
	}

	go metrics.StartCollector(ctx, db, 15*time.Second, logger)

	go func() {
		logger.Info("http server listening", "addr", addr,
			"upload", *upload, "strava_webhook", *stravaWebhook)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

func cmdMask(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hotpot mask {add NAME --latlng LAT,LON --radius M | remove NAME | list}")
	}

	db, err := openDatabase(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	masks, err := mask.NewRegistry(db)
	if err != nil {
		return err
	}

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("mask add", flag.ExitOnError)
		latlng := fs.String("latlng", "", "center as lat,lon in degrees")
		radius := fs.Float64("radius", 0, "radius in meters")
		// The name may come before or after the flags.
		var name string
		rest := args[1:]
		if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
			name, rest = rest[0], rest[1:]
		}
		fs.Parse(rest)
		if name == "" && fs.NArg() > 0 {
			name = fs.Arg(0)
		}

		parts := strings.Split(*latlng, ",")
		if name == "" || len(parts) != 2 {
			return fmt.Errorf("usage: hotpot mask add NAME --latlng LAT,LON --radius M")
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("invalid --latlng value %q", *latlng)
		}

		if err := masks.Add(name, lat, lon, *radius); err != nil {
			return err
		}
		fmt.Printf("added mask %q at %g,%g radius %gm\n", name, lat, lon, *radius)
		return nil

	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: hotpot mask remove NAME")
		}
		if err := masks.Remove(args[1]); err != nil {
			return err
		}
		fmt.Printf("removed mask %q\n", args[1])
		return nil

	case "list":
		list, err := masks.List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no masks configured")
			return nil
		}
		for _, m := range list {
			fmt.Printf("%s\t%g,%g\t%gm\n", m.Name, m.Lat, m.Lon, m.RadiusM)
		}
		return nil

	default:
		return fmt.Errorf("unknown mask command %q", args[0])
	}
}

func cmdStravaAuth(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("strava-auth", flag.ExitOnError)
	host := fs.String("host", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), "host the serve command listens on")
	fs.Parse(args)

	if err := cfg.ValidateStrava(); err != nil {
		return err
	}

	db, err := openDatabase(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	client := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, db, cliLogger(cfg))
	fmt.Printf(`To authorize hotpot, start the server with Strava routes enabled:

    hotpot serve --strava-webhook

then open this URL in a browser:

    %s
`, client.AuthorizeURL(*host))
	return nil
}
