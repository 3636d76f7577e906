package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/config"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/dispatch"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/event"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/session"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/store"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/transport"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/utils"
)

const storeTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the JSON or YAML config file")
	flag.Parse()

	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigCreated) {
			logger.Info(err.Error())
			return
		}
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init(cfg.DebugMode, cfg.LogDir)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner(loggerCallback)
	defer func() { _ = cleaner.Clean() }()

	gallery := store.NewMemoryStore(cfg.Gallery.Capacity, utils.ParseStringTimeOr(cfg.Gallery.TTL, 0))
	stores := []store.Store{gallery}
	var mongoStore *store.MongoStore
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), utils.ParseStringTimeOr(cfg.Database.ConnectTimeout, 10*time.Second))
		mongoStore, err = store.ConnectMongo(ctx, cfg.Database, cfg.AppName)
		cancel()
		if err != nil {
			logger.ErrorF("Error occured while initializing database, details: %v", err)
			return
		}
		stores = append(stores, mongoStore)
	}

	dispatcher := dispatch.NewDispatcher(store.NewConsumer(storeTimeout, stores...))
	manager := session.NewManager(transport.NewMQTTFactory(), func(msg transport.Message) {
		dispatcher.Dispatch(msg)
		logger.DebugF("Gallery holds %d images", gallery.Len())
	})
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	// the observer runs under the manager lock, so it only logs and signals
	manager.OnStateChange(func(from, to session.State) {
		logger.InfoF("Session %s -> %s", from, to)
		if to == session.Disconnected {
			stop()
		}
	})
	cleaner.Add(event.CallableFunc(func(ctx context.Context) error {
		manager.Disconnect(ctx)
		dropped, failed := dispatcher.Stats()
		logger.InfoF("Received %d images, dropped %d empty messages, %d failed", gallery.Len(), dropped, failed)
		return nil
	}))
	if mongoStore != nil {
		cleaner.Add(mongoStore)
	}

	if state := manager.Connect(cfg.Broker); state == session.Disconnected {
		logger.ErrorF("Unable to start session, details: %v", manager.LastError())
		return
	}
	cleaner.WaitForSignal(ctx)
}
