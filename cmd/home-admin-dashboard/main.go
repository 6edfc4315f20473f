package main

import (
	"os"

	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
	publishing "github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/messaging"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/repositories/database"
)

func main() {

	serviceName := "home-admin-dashboard"

	log := logging.NewLogger()
	log.Infof("Starting up %s ...", serviceName)

	cfg, err := config.Load(os.Getenv("DASHBOARD_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err.Error())
	}

	logging.Configure(cfg.Log.Level, cfg.Log.Format)

	var messenger publishing.MessagingContext
	if cfg.Messaging.Enabled {
		messagingConfig := messaging.LoadConfiguration(serviceName)
		messagingCtx, err := messaging.Initialize(messagingConfig)
		if err != nil {
			log.Fatalf("Failed to initialize messaging: %s", err.Error())
		}
		defer messagingCtx.Close()
		messenger = messagingCtx
	}

	connect, err := database.NewConnector(cfg.Database, log)
	if err != nil {
		log.Fatalf("Failed to configure the datastore: %s", err.Error())
	}

	db, err := database.NewDatabaseConnection(connect, log)
	if err != nil {
		log.Fatalf("Failed to connect to the datastore: %s", err.Error())
	}

	application.CreateRouterAndStartServing(cfg, log, messenger, db)
}
