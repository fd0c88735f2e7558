package database

import (
	"context"
	"fmt"
	"time"

	"go-evidence/internal/config"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type MongodbDB struct {
	DB *mongo.Database
}

// Database holds whichever backend DB_DRIVER selected. Exactly one of Mongo
// and SQL is non-nil.
type Database struct {
	Driver string
	Mongo  *MongodbDB
	SQL    *gorm.DB
}

// NewDatabase opens the configured database with lifecycle management
func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*Database, error) {
	switch cfg.DBDriver {
	case config.DBDriverMongo:
		mdb, err := NewMongo(lc, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Database{Driver: cfg.DBDriver, Mongo: mdb}, nil
	default:
		db, err := NewSQL(lc, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Database{Driver: cfg.DBDriver, SQL: db}, nil
	}
}

// NewMongo creates a new MongoDB database connection with lifecycle management
func NewMongo(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*MongodbDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	log.Info("Connected to MongoDB", zap.String("db", cfg.DBName))

	db := client.Database(cfg.DBName)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("Disconnecting from MongoDB...")
			return client.Disconnect(ctx)
		},
	})

	return &MongodbDB{DB: db}, nil
}

// NewSQL opens PostgreSQL or SQLite through gorm.
func NewSQL(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DBDriverPostgres:
		log.Info("Connecting to PostgreSQL...")
		dialector = postgres.Open(cfg.SQLDSN)
	case config.DBDriverSQLite:
		log.Info("Using SQLite", zap.String("dsn", cfg.SQLDSN))
		dialector = sqlite.Open(cfg.SQLDSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == config.DBDriverSQLite {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("Closing SQL database...")
			return sqlDB.Close()
		},
	})

	return db, nil
}

// Ping checks that the selected backend is reachable.
func (d *Database) Ping(ctx context.Context) error {
	if d.Mongo != nil {
		return d.Mongo.DB.Client().Ping(ctx, nil)
	}
	sqlDB, err := d.SQL.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
