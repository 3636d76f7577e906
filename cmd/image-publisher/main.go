package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/config"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/event"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/publisher"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/transport"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/utils"
)

func main() {
	defaults := config.Default()
	configPath := flag.String("config", "", "optional JSON or YAML config file, flags override it")
	imagesDir := flag.String("images-dir", defaults.Publisher.ImagesDir, "directory containing images to publish")
	host := flag.String("host", "", "broker URL")
	vpn := flag.String("vpn", "", "message VPN name")
	username := flag.String("username", "", "client username")
	password := flag.String("password", "", "client password")
	prefix := flag.String("topic-prefix", "", "topic prefix, each image goes to <prefix>/<filename>")
	interval := flag.String("interval", "", "pause between two images, e.g. 500ms")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg := defaults
	if *configPath != "" {
		var err error
		cfg, err = config.ReadConfig(*configPath)
		if err != nil && !errors.Is(err, config.ErrConfigCreated) {
			logger.FatalF("Error occured while reading config %v", err)
			return
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "images-dir":
			cfg.Publisher.ImagesDir = *imagesDir
		case "host":
			cfg.Broker.URL = *host
		case "vpn":
			cfg.Broker.VPNName = *vpn
		case "username":
			cfg.Broker.UserName = *username
		case "password":
			cfg.Broker.Password = *password
		case "topic-prefix":
			cfg.Publisher.TopicPrefix = *prefix
		case "interval":
			cfg.Publisher.Interval = *interval
		case "debug":
			cfg.DebugMode = *debug
		}
	})

	loggerCallback := logger.Init(cfg.DebugMode, cfg.LogDir)
	cleaner := event.NewCleaner(loggerCallback)
	defer func() { _ = cleaner.Clean() }()

	if _, err := os.Stat(cfg.Publisher.ImagesDir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(cfg.Publisher.ImagesDir, 0755); err != nil {
			logger.ErrorF("Unable to create images directory %s, details: %v", cfg.Publisher.ImagesDir, err)
			return
		}
		logger.InfoF("Created images directory %s, add images and run again", cfg.Publisher.ImagesDir)
		return
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		cleaner.WaitForSignal(ctx)
		stop()
	}()

	opts := cfg.Broker.Options()
	session, err := publisher.Connect(ctx, transport.NewMQTTFactory(), opts)
	if err != nil {
		logger.ErrorF("Unable to connect to %s, details: %v", opts.URL, err)
		return
	}
	cleaner.Add(event.CallableFunc(session.Close))
	logger.InfoF("Connected to %s", opts.URL)

	pub := publisher.New(session, cfg.Publisher.TopicPrefix, utils.ParseStringTimeOr(cfg.Publisher.Interval, 0))
	summary, err := pub.PublishDir(ctx, cfg.Publisher.ImagesDir)
	if err != nil {
		logger.ErrorF("Publishing stopped, details: %v", err)
	}
	logger.InfoF("Published %d images, skipped %d", summary.Published, summary.Skipped)
}
