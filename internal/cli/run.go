package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tuxx/wayvid/internal/config"
	"github.com/tuxx/wayvid/internal/control"
	"github.com/tuxx/wayvid/internal/engine"
	"github.com/tuxx/wayvid/internal/ipc"
	"github.com/tuxx/wayvid/internal/library"
	"github.com/tuxx/wayvid/internal/logging"
	"github.com/tuxx/wayvid/internal/power"
	"github.com/tuxx/wayvid/internal/thumbs"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the wallpaper daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.SettingsPath()
			}
			return runDaemon(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to settings file")
	return cmd
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, config.LogDir())
	log.Info().Str("version", Version).Msg("wayvid starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := library.Open(config.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	for _, folder := range cfg.Library.Folders {
		if err := store.AddFolder(folder); err != nil {
			log.Warn().Str("folder", folder).Err(err).Msg("cannot register folder")
		}
	}

	gen, err := thumbs.NewGenerator(store, config.ThumbnailDir())
	if err != nil {
		return err
	}
	defer gen.Close()

	// Initial scan plus thumbnail backfill happens off the startup path.
	go func() {
		if res, err := store.ScanAll(); err == nil {
			log.Info().Int("added", res.Added).Int("updated", res.Updated).
				Int("removed", res.Removed).Msg("library scan complete")
		}
		scheduleThumbnails(store, gen)
	}()

	if cfg.Library.Watch {
		if watcher, err := library.NewWatcher(store); err == nil {
			watcher.OnScan = func(library.ScanResult) { scheduleThumbnails(store, gen) }
			go watcher.Run(ctx)
		} else {
			log.Warn().Err(err).Msg("folder watching unavailable")
		}
	}

	handle := control.NewHandle()
	eng := engine.New(cfg, configPath, Version, handle)
	eng.OnPressure = func(level engine.PressureLevel) {
		switch {
		case level >= engine.PressureCritical:
			gen.Pause()
		default:
			gen.Resume()
		}
	}

	server, err := ipc.Listen(config.SocketPath(), handle, Version)
	if err != nil {
		return err
	}
	defer server.Close()

	if monitor, err := power.NewMonitor(handle, cfg.Power.PauseOnLock); err == nil {
		go monitor.Run(ctx)
	} else {
		log.Debug().Err(err).Msg("power monitoring unavailable")
	}

	// Forward termination signals as a clean Quit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			handle.Send(control.Quit{})
		case <-ctx.Done():
		}
	}()

	go drainEvents(handle)

	// The engine owns the calling goroutine until Quit.
	return eng.Run()
}

// scheduleThumbnails enqueues generation for every item without a finished
// thumbnail.
func scheduleThumbnails(store *library.Store, gen *thumbs.Generator) {
	items, err := store.ListWallpapers(library.Filter{})
	if err != nil {
		log.Warn().Err(err).Msg("thumbnail backfill listing failed")
		return
	}
	for _, item := range items {
		status, err := store.ThumbnailStatus(item.ID)
		if err != nil || status == library.ThumbDone {
			continue
		}
		gen.Request(thumbs.Job{ItemID: item.ID, SourcePath: item.SourcePath})
	}
}

// drainEvents keeps the event channel flowing when no GUI is attached.
func drainEvents(handle *control.Handle) {
	for ev := range handle.Events() {
		switch e := ev.(type) {
		case control.EngineError:
			log.Warn().Str("kind", e.Kind).Str("message", e.Message).Msg("engine error")
		case control.Stopped:
			return
		}
	}
}
