package test

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newPool(t *testing.T) *dockertest.Pool {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)

	pool.MaxWait = 3 * time.Minute

	return pool
}

func startPostgres(t *testing.T, pool *dockertest.Pool) (string, func()) {
	t.Helper()

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15",
		Env: []string{
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_USER=kuiil",
			"POSTGRES_DB=kuiil",
		},
		ExposedPorts: []string{"5432/tcp"},
	})
	require.NoError(t, err)

	hostPort := resource.GetHostPort("5432/tcp")
	host := "localhost"
	port := hostPort

	parsedHost, parsedPort, err := net.SplitHostPort(hostPort)
	if err == nil {
		if parsedHost != "" && parsedHost != "0.0.0.0" {
			host = parsedHost
		}

		port = parsedPort
	}

	dsn := fmt.Sprintf("host=%s user=kuiil password=secret dbname=kuiil port=%s sslmode=disable", host, port)

	require.NoError(t, pool.Retry(func() error {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return err
		}

		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		return sqlDB.Ping()
	}))

	cleanup := func() {
		_ = pool.Purge(resource)
	}

	return dsn, cleanup
}

func applySchema(t *testing.T, db *gorm.DB) {
	t.Helper()

	schema, err := os.ReadFile(filepath.Join("..", "migrations", "20260210120000_init.up.sql"))
	require.NoError(t, err)

	for _, stmt := range strings.Split(string(schema), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		require.NoError(t, db.Exec(stmt).Error)
	}
}

func configureConfigForTest(t *testing.T, dsn string) {
	t.Helper()

	host, port := parsePostgresDSN(dsn)
	if host == "" {
		host = "localhost"
	}

	if port == "" {
		port = "5432"
	}

	config.Conf.PostgresHost = host
	config.Conf.PostgresPort = port
	config.Conf.PostgresUsername = "kuiil"
	config.Conf.PostgresPassword = "secret"
	config.Conf.PostgresDatabase = "kuiil"
	config.Conf.DBIntervalCB = 1
	config.Conf.DBConsecutiveFailuresCB = 3

	config.Conf.WebhookAPIKey = "integration-key"
	config.Conf.HTTPListenAddr = ":0"
	config.Conf.HTTPReadTimeout = 5
	config.Conf.HTTPWriteTimeout = 5
	config.Conf.HTTPShutdownTimeout = 5

	config.Conf.FetchTimeout = 5
	config.Conf.FetchMaxBytes = 10 * 1024 * 1024
	config.Conf.FetchRetryMaxAttempts = 2
	config.Conf.FetchRetryBackoffMin = 0
	config.Conf.FetchRetryBackoffMax = 1
	config.Conf.FetchIntervalCB = 1
	config.Conf.FetchConsecutiveFailuresCB = 100

	config.Conf.DispatchDeadline = 30
	config.Conf.NoRecordingPolicy = config.NoRecordingPolicyDispatch
	config.Conf.DefaultCampaignID = 0
	config.Conf.DefaultOperatorID = 0
	config.Conf.TaskLanguage = "es"
	config.Conf.TaskModel = "nova-3"
	config.Conf.TaskDevice = "deepgram"

	config.Conf.RetentionDays = 30
	config.Conf.RetentionPurgeMinutes = 60
	config.Conf.RedispatchAfterMinutes = 10
	config.Conf.PoolSize = 4
	config.Conf.RetentionPoolSize = 1

	config.Conf.HealthCheckerMonitorInterval = 1

	config.Conf.LogFilePath = filepath.Join(os.TempDir(), "kuiil-test.log")
	config.Conf.LogLevel = "INFO"
}

func parsePostgresDSN(dsn string) (string, string) {
	fields := strings.Fields(dsn)
	keyValues := map[string]string{}

	for _, field := range fields {
		parts := strings.SplitN(field, "=", 2)
		if len(parts) == 2 {
			keyValues[parts[0]] = parts[1]
		}
	}

	return keyValues["host"], keyValues["port"]
}
