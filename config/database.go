package config

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// SearchLimit is the default page size for list endpoints.
const SearchLimit = 50

var db atomic.Pointer[gorm.DB]

func GetDB() *gorm.DB {
	return db.Load()
}

// SetDB replaces the global handle. Tests and tools use it with their own connection.
func SetDB(d *gorm.DB) {
	db.Store(d)
}

func init() {
	godotenv.Load()
}

// mysqlDSN builds the DSN from DB_* env. DB_HOST=/cloudsql/<instance> selects the unix socket.
func mysqlDSN() string {
	host := os.Getenv("DB_HOST")
	network, address := "tcp", host+":"+envOrDefault("DB_PORT", "3306")
	if strings.HasPrefix(host, "/cloudsql/") {
		network, address = "unix", host
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		envOrDefault("DB_USER", "root"),
		os.Getenv("DB_PASSWORD"),
		network,
		address,
		envOrDefault("DB_NAME", "gst_billing_system"),
	)
}

func configurePool(sqlDB *sql.DB) {
	if n := intFromEnv("DB_MAX_OPEN_CONNS", 50); n > 0 {
		sqlDB.SetMaxOpenConns(n)
	}
	if n := intFromEnv("DB_MAX_IDLE_CONNS", 25); n >= 0 {
		sqlDB.SetMaxIdleConns(n)
	}
	if n := intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300); n > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(n) * time.Second)
	}
}

// ConnectDatabaseWithRetry blocks until MySQL answers, then sets the global DB.
// server.go calls it after the listener is up so /api can answer 503 meanwhile.
func ConnectDatabaseWithRetry() {
	dbLog := GetLogger().WithField("field", "database")
	dsn := mysqlDSN()

	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(mysql.Open(dsn), initConfig())
		if err == nil {
			var sqlDB *sql.DB
			if sqlDB, err = conn.DB(); err == nil {
				configurePool(sqlDB)
				err = sqlDB.Ping()
			}
		}
		if err == nil {
			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				dbLog.Warn("otelgorm plugin not installed: " + pluginErr.Error())
			}
			SetDB(conn)
			dbLog.WithField("attempt", attempt).Info("connected to database")
			return
		}

		sleep := backoff(attempt)
		dbLog.WithFields(logrus.Fields{"attempt": attempt, "retry_in": sleep.String()}).
			Warn("database connect failed: " + err.Error())
		time.Sleep(sleep)
	}
}

// backoff doubles per attempt and is capped at 30s.
func backoff(attempt int) time.Duration {
	return min(time.Second*time.Duration(1<<min(attempt, 5)), 30*time.Second)
}

func intFromEnv(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return n
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Warn,
				SlowThreshold:             time.Duration(intFromEnv("DB_SLOW_QUERY_MS", 1000)) * time.Millisecond,
				IgnoreRecordNotFoundError: true,
			},
		),
		NamingStrategy: schema.NamingStrategy{},
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewGormConfig is shared by tools and tests opening a non-MySQL dialect.
func NewGormConfig() *gorm.Config {
	return initConfig()
}
