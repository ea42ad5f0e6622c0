package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	NoRecordingPolicyDispatch = "dispatch"
	NoRecordingPolicyFail     = "fail"
)

type Config struct {
	HTTPListenAddr      string `mapstructure:"http_listen_addr"`
	HTTPReadTimeout     int    `mapstructure:"http_read_timeout"`
	HTTPWriteTimeout    int    `mapstructure:"http_write_timeout"`
	HTTPShutdownTimeout int    `mapstructure:"http_shutdown_timeout"`
	WebhookAPIKey       string `mapstructure:"webhook_api_key"       validate:"required"`

	PostgresHost            string `mapstructure:"postgres_host"              validate:"required"`
	PostgresUsername        string `mapstructure:"postgres_username"          validate:"required"`
	PostgresPassword        string `mapstructure:"postgres_password"          validate:"required"`
	PostgresPort            string `mapstructure:"postgres_port"              validate:"required"`
	PostgresDatabase        string `mapstructure:"postgres_database"          validate:"required"`
	DBIntervalCB            uint32 `mapstructure:"db_interval_cb"`
	DBConsecutiveFailuresCB uint32 `mapstructure:"db_consecutive_failures_cb"`

	KafkaBootstrapServer       string `mapstructure:"kafka_bootstrap_server"        validate:"required"`
	KafkaUsername              string `mapstructure:"kafka_username"                validate:"required"`
	KafkaPassword              string `mapstructure:"kafka_password"                validate:"required"`
	KafkaTaskTopic             string `mapstructure:"kafka_task_topic"              validate:"required"`
	KafkaIntervalCB            uint32 `mapstructure:"kafka_interval_cb"`
	KafkaConsecutiveFailuresCB uint32 `mapstructure:"kafka_consecutive_failures_cb"`

	MinioEndpointURL           string `mapstructure:"minio_endpoint_url"              validate:"required"`
	MinioAccessKey             string `mapstructure:"minio_access_key"                validate:"required"`
	MinioSecretKey             string `mapstructure:"minio_secret_key"                validate:"required"`
	MinioBucketName            string `mapstructure:"minio_bucket_name"               validate:"required"`
	MinioPathPrefix            string `mapstructure:"minio_path_prefix"`
	MinioMaxRetryAttempts      uint   `mapstructure:"minio_max_retry_attempts"`
	MinioRetryBackoffMin       int    `mapstructure:"minio_retry_backoff_min_seconds"`
	MinioRetryBackoffMax       int    `mapstructure:"minio_retry_backoff_max_seconds"`
	MinioTimeout               int    `mapstructure:"minio_timeout"`
	MinioIntervalCB            uint32 `mapstructure:"minio_interval_cb"`
	MinioConsecutiveFailuresCB uint32 `mapstructure:"minio_consecutive_failures_cb"`

	FetchTimeout               int    `mapstructure:"fetch_timeout"`
	FetchMaxBytes              int64  `mapstructure:"fetch_max_bytes"`
	FetchRetryMaxAttempts      uint   `mapstructure:"fetch_retry_max_attempts"`
	FetchRetryBackoffMin       int    `mapstructure:"fetch_retry_backoff_min"`
	FetchRetryBackoffMax       int    `mapstructure:"fetch_retry_backoff_max"`
	FetchIntervalCB            uint32 `mapstructure:"fetch_interval_cb"`
	FetchConsecutiveFailuresCB uint32 `mapstructure:"fetch_consecutive_failures_cb"`

	DispatchDeadline  int    `mapstructure:"dispatch_deadline"`
	DefaultCampaignID int    `mapstructure:"default_campaign_id"`
	DefaultOperatorID int    `mapstructure:"default_operator_id"`
	NoRecordingPolicy string `mapstructure:"no_recording_policy" validate:"omitempty,oneof=dispatch fail"`
	TaskLanguage      string `mapstructure:"task_language"`
	TaskModel         string `mapstructure:"task_model"`
	TaskDevice        string `mapstructure:"task_device"`

	RetentionDays          int `mapstructure:"retention_days"`
	RetentionPurgeMinutes  int `mapstructure:"retention_purge_minutes"`
	RedispatchAfterMinutes int `mapstructure:"redispatch_after_minutes"`

	PoolSize          int `mapstructure:"pool_size"`
	RetentionPoolSize int `mapstructure:"retention_pool_size"`

	LogLevel    string `mapstructure:"log_level"`
	LogFilePath string `mapstructure:"log_file_path"`

	HealthCheckerMonitorInterval int    `mapstructure:"health_checker_monitor_interval"`
	HealthCheckerProbeURL        string `mapstructure:"health_checker_probe_url"`

	PrometheusPort    string `mapstructure:"prometheus_port"`
	PrometheusTimeout int    `mapstructure:"prometheus_timeout"`
}

var Conf Config

func init() {
	err := loadEnvConfig(&Conf)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.String("error", err.Error()))
	}
}

func loadEnvConfig(cfg *Config) error {
	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setupDefaults()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError

		ok := errors.As(err, &configFileNotFoundError)
		if !ok {
			return err
		}
	}

	err = viper.Unmarshal(cfg)
	if err != nil {
		return err
	}

	return nil
}

// Validate checks the required settings. Called from main so that
// partially configured environments can still load the package.
func Validate() error {
	return validator.New().Struct(&Conf)
}

func setupDefaults() {
	confType := reflect.TypeOf(Conf)
	for i := range confType.NumField() {
		field := confType.Field(i)
		viper.SetDefault(field.Tag.Get("mapstructure"), "")
	}

	viper.SetDefault("HTTP_LISTEN_ADDR", ":8080")
	viper.SetDefault("HTTP_READ_TIMEOUT", "15")
	viper.SetDefault("HTTP_WRITE_TIMEOUT", "15")
	viper.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "10")
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("LOG_FILE_PATH", "./access.log")
	viper.SetDefault("POOL_SIZE", "10")
	viper.SetDefault("RETENTION_POOL_SIZE", "2")
	viper.SetDefault("MINIO_MAX_RETRY_ATTEMPTS", "3")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MIN_SECONDS", "1")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MAX_SECONDS", "10")
	viper.SetDefault("MINIO_TIMEOUT", "60")
	viper.SetDefault("FETCH_TIMEOUT", "30")
	viper.SetDefault("FETCH_MAX_BYTES", "104857600")
	viper.SetDefault("FETCH_RETRY_MAX_ATTEMPTS", "3")
	viper.SetDefault("FETCH_RETRY_BACKOFF_MIN", "1")
	viper.SetDefault("FETCH_RETRY_BACKOFF_MAX", "10")
	viper.SetDefault("DISPATCH_DEADLINE", "300")
	viper.SetDefault("DEFAULT_CAMPAIGN_ID", "0")
	viper.SetDefault("DEFAULT_OPERATOR_ID", "0")
	viper.SetDefault("NO_RECORDING_POLICY", NoRecordingPolicyDispatch)
	viper.SetDefault("TASK_LANGUAGE", "es")
	viper.SetDefault("TASK_MODEL", "nova-3")
	viper.SetDefault("TASK_DEVICE", "deepgram")
	viper.SetDefault("RETENTION_DAYS", "30")
	viper.SetDefault("RETENTION_PURGE_MINUTES", "60")
	viper.SetDefault("REDISPATCH_AFTER_MINUTES", "10")
	viper.SetDefault("HEALTH_CHECKER_MONITOR_INTERVAL", "60")
	viper.SetDefault("DB_INTERVAL_CB", "30")
	viper.SetDefault("DB_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("MINIO_INTERVAL_CB", "300")
	viper.SetDefault("MINIO_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("KAFKA_INTERVAL_CB", "30")
	viper.SetDefault("KAFKA_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("FETCH_INTERVAL_CB", "30")
	viper.SetDefault("FETCH_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("PROMETHEUS_PORT", "2112")
	viper.SetDefault("PROMETHEUS_TIMEOUT", "60")
}
