package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/repositories/models"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//Datastore is an interface that is used to inject the database into different handlers to improve testability
type Datastore interface {
	GetWorkspacePosition(sessionID, groupID string) (state, houseID, spaceID string, found bool, err error)
	SaveWorkspacePosition(sessionID, groupID, state, houseID, spaceID string) error

	RecordDeviceEvent(deviceID, action string, success bool, message string, snapshot interface{}) error
	GetDeviceEvents(deviceID string, limit int) ([]models.DeviceEvent, error)
}

type myDB struct {
	impl *gorm.DB
	log  logging.Logger
}

//ConnectorFunc is used to inject a database connection method into NewDatabaseConnection
type ConnectorFunc func() (*gorm.DB, error)

//NewPostgreSQLConnector opens a connection to a postgresql database
func NewPostgreSQLConnector(cfg config.DatabaseConfig, log logging.Logger) ConnectorFunc {
	dbURI := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=%s password=%s", cfg.Host, cfg.User, cfg.Name, cfg.SSLMode, cfg.Password)

	return func() (*gorm.DB, error) {
		for attempt := 1; ; attempt++ {
			log.Infof("Connecting to database host %s ...", cfg.Host)
			db, err := gorm.Open(postgres.Open(dbURI), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Warn),
			})
			if err == nil {
				return db, nil
			}

			if attempt == 10 {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			log.Errorf("Failed to connect to database %s", err.Error())
			time.Sleep(3 * time.Second)
		}
	}
}

//NewSQLiteConnector opens a connection to a private in memory sqlite database
func NewSQLiteConnector() ConnectorFunc {
	return func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}

		// every pooled connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)

		db.Exec("PRAGMA foreign_keys = ON")

		return db, nil
	}
}

//NewConnector picks the connector matching the configured driver
func NewConnector(cfg config.DatabaseConfig, log logging.Logger) (ConnectorFunc, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgreSQLConnector(cfg, log), nil
	case "sqlite":
		return NewSQLiteConnector(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

//NewDatabaseConnection initializes a new connection to the database and wraps it in a Datastore
func NewDatabaseConnection(connect ConnectorFunc, log logging.Logger) (Datastore, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	db := &myDB{
		impl: impl,
		log:  log,
	}

	if err := db.impl.AutoMigrate(&models.Workspace{}, &models.DeviceEvent{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return db, nil
}

func (db *myDB) GetWorkspacePosition(sessionID, groupID string) (string, string, string, bool, error) {
	ws := models.Workspace{}
	result := db.impl.Where("session_id = ? AND group_id = ?", sessionID, groupID).First(&ws)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", "", "", false, nil
	}
	if result.Error != nil {
		return "", "", "", false, result.Error
	}

	return ws.State, ws.HouseID, ws.SpaceID, true, nil
}

func (db *myDB) SaveWorkspacePosition(sessionID, groupID, state, houseID, spaceID string) error {
	ws := models.Workspace{}
	result := db.impl.Where("session_id = ? AND group_id = ?", sessionID, groupID).First(&ws)

	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}

	ws.SessionID = sessionID
	ws.GroupID = groupID
	ws.State = state
	ws.HouseID = houseID
	ws.SpaceID = spaceID

	return db.impl.Save(&ws).Error
}

func (db *myDB) RecordDeviceEvent(deviceID, action string, success bool, message string, snapshot interface{}) error {
	var snapshotJSON datatypes.JSON

	if snapshot != nil {
		b, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshaling snapshot of %s: %w", deviceID, err)
		}
		snapshotJSON = datatypes.JSON(b)
	}

	event := &models.DeviceEvent{
		DeviceID:   deviceID,
		Action:     action,
		Success:    success,
		Message:    message,
		Snapshot:   snapshotJSON,
		OccurredAt: time.Now().UTC(),
	}

	return db.impl.Create(event).Error
}

func (db *myDB) GetDeviceEvents(deviceID string, limit int) ([]models.DeviceEvent, error) {
	events := []models.DeviceEvent{}

	query := db.impl.Where("device_id = ?", deviceID).Order("occurred_at desc").Order("id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if result := query.Find(&events); result.Error != nil {
		return nil, result.Error
	}

	return events, nil
}
