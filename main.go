package main

import (
	"VisorDet/capture"
	"VisorDet/config"
	"VisorDet/engine"
	"VisorDet/logger"
	"VisorDet/modelhub"
	"VisorDet/monitor"
	"VisorDet/visor"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

func init() {
	// highgui must be driven from the main OS thread.
	runtime.LockOSThread()
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, notes, err := config.Load(config.DefaultPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		return 1
	}
	if err := logger.Init(cfg.Log.Mode, cfg.Log.Level); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		return 1
	}
	defer logger.Sync()

	runID := uuid.NewString()
	log := logger.Log().With(zap.String("run", runID))
	logger.Use(log)
	for _, n := range notes {
		log.Warn(n)
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Println(" GoCV Version:", gocv.Version())
	fmt.Println(" OpenCV Lib  :", gocv.OpenCVVersion())
	fmt.Println(" Camera index:", cfg.Camera.Index)
	fmt.Println(" Exit key    : Esc")
	fmt.Println(strings.Repeat("#", 64))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	load, err := engine.NewLoader(cfg.Model)
	if err != nil {
		log.Error("invalid model settings", zap.Error(err))
		return 1
	}
	hub := modelhub.New(cfg.Model.ModelDir, cfg.Model.DownloadURL)
	model, chosen, err := engine.LoadFirst(ctx, engine.DefaultCandidates(cfg.Model, hub), load)
	if err != nil {
		log.Error("failed to load model", zap.Error(err))
		return 1
	}
	defer func() {
		if err := model.Close(); err != nil {
			log.Error("close model", zap.Error(err))
		}
	}()

	cam, err := capture.OpenCamera(cfg.Camera.Index, cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		log.Error("failed to open camera", zap.Error(err))
		return 1
	}
	win := capture.NewWindow(cfg.Window.Title)

	loop := visor.NewLoop(model, cam, win)
	loop.ExitKey = cfg.Window.ExitKey
	loop.PollMillis = cfg.Window.PollMillis
	if cfg.Monitor.Enabled {
		mon := monitor.New(runID)
		mon.ModelTier = chosen.Tier
		mon.ModelPath = chosen.Path
		mon.State = func() string { return visor.StateName(loop.State()) }
		mon.Reason = func() string { return loop.Reason().String() }
		if err := mon.Start(ctx, cfg.Monitor.Port); err != nil {
			log.Warn("monitor disabled", zap.Error(err))
		} else {
			loop.Observer = mon
		}
	}

	log.Info("capture loop started", zap.String("tier", chosen.Tier), zap.String("model", chosen.Path))
	if err := loop.Run(ctx); err != nil {
		log.Error("capture loop failed", zap.Error(err), zap.Int("frames", loop.Frames()))
		return 1
	}
	log.Info("Safely exited", zap.Int("frames", loop.Frames()), zap.Stringer("reason", loop.Reason()))
	return 0
}
