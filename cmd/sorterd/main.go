package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"recycling-sorter/config"
	"recycling-sorter/internal/api"
	"recycling-sorter/internal/bins"
	"recycling-sorter/internal/camera"
	"recycling-sorter/internal/classifier"
	"recycling-sorter/internal/controller"
	"recycling-sorter/internal/db"
	"recycling-sorter/internal/model"
	"recycling-sorter/internal/notification"
	"recycling-sorter/internal/sensor"
	"recycling-sorter/internal/servo"
	"recycling-sorter/internal/snapshot"
	"recycling-sorter/internal/sorter"
	"recycling-sorter/internal/store"
	"recycling-sorter/internal/telemetry"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "sorterd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	appStore := store.NewGormStore(gormDB)
	if err := appStore.SyncBins(context.Background(), binRows(cfg)); err != nil {
		logger.Fatalf("failed to sync bins: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshot and its optional file hand-off
	var observers []snapshot.Observer
	if cfg.Snapshot.MirrorFiles {
		mirror, err := snapshot.NewFileMirror(cfg.Snapshot.Dir)
		if err != nil {
			logger.Fatalf("failed to create snapshot mirror: %v", err)
		}
		observers = append(observers, mirror.Observe)
	}
	snapshots := snapshot.NewPublisher(observers...)

	// Telemetry
	var publisher telemetry.Publisher = telemetry.Discard{}
	if cfg.Telemetry.Enabled {
		mqttPub := telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			Broker:      cfg.Telemetry.Broker,
			ClientID:    cfg.Telemetry.ClientID,
			AccessToken: cfg.Telemetry.AccessToken,
			KeepAlive:   cfg.Telemetry.KeepAlive,
		})
		if err := mqttPub.Connect(ctx); err != nil {
			logger.Printf("telemetry broker unavailable, will retry on publish: %v", err)
		} else {
			logger.Printf("connected to telemetry broker %s", cfg.Telemetry.Broker)
		}
		publisher = mqttPub
	}
	dispatcher := telemetry.NewDispatcher(publisher, cfg.Telemetry.Topic, byte(cfg.Telemetry.QoS), cfg.Telemetry.QueueSize, cfg.Telemetry.KeepAlive)
	dispatcher.Start(ctx)

	// Web push for full bins, only when VAPID keys are configured
	var webpushOptions *webpush.Options
	ctrlOpts := []controller.Option{controller.WithHistory(appStore)}
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		workerPool.Start(ctx)
		ctrlOpts = append(ctrlOpts, controller.WithNotifier(workerPool))
	} else {
		logger.Println("VAPID keys not configured, bin-full push notifications disabled")
	}

	// Hardware
	driver, err := servo.OpenDriver(cfg.Servo)
	if err != nil {
		logger.Fatalf("failed to open servo driver: %v", err)
	}
	bank, err := servo.NewBankFromConfig(cfg, driver)
	if err != nil {
		logger.Fatalf("failed to configure servos: %v", err)
	}
	sensors := sensor.Open(cfg)

	cam := camera.NewCapturer(&camera.CommandDevice{
		Command: cfg.Camera.Command,
		Args:    cfg.Camera.Args,
		Timeout: cfg.Camera.Timeout,
	}, cfg.Camera.ImagePath)

	var cls classifier.Classifier
	onnxModel, err := classifier.LoadONNX(cfg.Classifier)
	if err != nil {
		logger.Printf("classifier unavailable, every item will go to trash: %v", err)
		cls = classifier.Func(func(context.Context, string) (classifier.Category, error) {
			return classifier.Trash, fmt.Errorf("%w: no model loaded", classifier.ErrClassifier)
		})
	} else {
		cls = onnxModel
	}

	cycle := sorter.New(cam, cls, bank, snapshots, dispatcher, cfg.Servo.Hold, sorter.WithHistory(appStore))
	ctrl := controller.New(cfg, sensors, cycle, bank, snapshots, dispatcher, ctrlOpts...)

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := ctrl.Run(ctx); err != nil {
			logger.Printf("controller stopped: %v", err)
		}
	}()

	// Initialize router
	var server *http.Server
	if cfg.Server.Enabled {
		router := api.NewRouter(cfg.Server, appStore, snapshots, webpushOptions)
		server = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: router,
		}

		// Start the server in a goroutine
		go func() {
			logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatalf("HTTP server ListenAndServe: %v", err)
			}
		}()
	}

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	// The controller parks every flap before it returns.
	<-ctrlDone

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP server Shutdown: %v", err)
		}
	}
	dispatcher.Wait(shutdownCtx)
	if dropped := dispatcher.Dropped(); dropped > 0 {
		logger.Printf("%d telemetry messages were dropped", dropped)
	}

	logger.Println("Sorter gracefully stopped")
}

// binRows describes the configured bins for the database.
func binRows(cfg *config.Config) []model.Bin {
	wiring := sensor.BinConfigs(cfg)
	rows := make([]model.Bin, 0, len(bins.All))
	for _, id := range bins.All {
		bc := wiring[id]
		rows = append(rows, model.Bin{
			ID:           model.BinKey(id),
			Name:         id.String(),
			DisplayName:  displayName(id),
			Enabled:      bc.Enabled,
			SensorPin:    int(bc.SensorPin),
			ServoChannel: bc.ServoChannel,
		})
	}
	return rows
}

func displayName(id bins.ID) string {
	name := id.String()
	return string(name[0]-'a'+'A') + name[1:]
}
