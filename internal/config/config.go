// Package config loads the pipeline configuration from the environment, an optional .env file
// and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment keys.
const (
	EnvDatabaseURI      = "PROD_DB_URI"
	EnvTrackingURI      = "MLFLOW_TRACKING_URI"
	EnvModelName        = "MODEL_NAME"
	EnvModelAlias       = "MODEL_ALIAS"
	EnvExperimentName   = "EXPERIMENT_NAME"
	EnvAPIURL           = "API_URL"
	EnvPollInterval     = "POLL_INTERVAL"
	EnvFraudThreshold   = "FRAUD_THRESHOLD"
	EnvChunkSize        = "CHUNK_SIZE"
	EnvDatasetURL       = "DATASET_URL"
	EnvLocalModelPath   = "LOCAL_MODEL_PATH"
	EnvSMTPHost         = "SMTP_HOST"
	EnvSMTPPort         = "SMTP_PORT"
	EnvSenderEmail      = "SENDER_EMAIL"
	EnvReceiverEmail    = "RECEIVER_EMAIL"
	EnvAppPassword      = "APP_PASSWORD"
	EnvRedisAddr        = "REDIS_ADDR"
	EnvDedupTTL         = "DEDUP_TTL"
	EnvKafkaBroker      = "KAFKA_BROKER"
	EnvKafkaAlertTopic  = "KAFKA_ALERT_TOPIC"
	EnvHTTPAddr         = "HTTP_ADDR"
	EnvCORSOrigins      = "CORS_ORIGINS"
	EnvReportSchedule   = "REPORT_SCHEDULE"
	EnvReportTimezone   = "REPORT_TIMEZONE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvHTTPTimeout      = "HTTP_TIMEOUT"
	EnvTrainParallelism = "TRAIN_PARALLELISM"
)

// Defaults.
const (
	DefaultTrackingURI    = "http://mlflow-server:5000"
	DefaultModelName      = "XGBoost_Fraud_Model_Prod"
	DefaultModelAlias     = "production"
	DefaultExperimentName = "Fraud Detection Training"
	DefaultAPIURL         = "https://charlestng-real-time-fraud-detection.hf.space/current-transactions"
	DefaultDatasetURL     = "https://lead-program-assets.s3.eu-west-3.amazonaws.com/M05-Projects/fraudTest.csv"
	DefaultPollInterval   = 60 * time.Second
	DefaultFraudThreshold = 0.5
	DefaultChunkSize      = 10000
	DefaultLocalModelPath = "models/fraud_model.json"
	DefaultSMTPHost       = "smtp.gmail.com"
	DefaultSMTPPort       = 587
	DefaultDedupTTL       = 24 * time.Hour
	DefaultKafkaTopic     = "fraud_alerts"
	DefaultHTTPAddr       = ":8080"
	DefaultCORSOrigin     = "http://localhost:3000"
	DefaultReportSchedule = "@daily"
	DefaultReportTimezone = "UTC"
	DefaultLogLevel       = "info"
	DefaultHTTPTimeout    = 30 * time.Second
)

var errInvalidConfig = errors.New("invalid configuration")

// InvalidConfigError wraps a description of an invalid setting.
func InvalidConfigError(key string, reason string) error {
	return fmt.Errorf("%w, %s: %s", errInvalidConfig, key, reason)
}

// SMTPConfig holds the mail relay settings shared by the reporter and the scorer.
type SMTPConfig struct {
	Host     string
	Port     int
	Sender   string
	Receiver string
	Password string
}

// Configured reports whether enough settings are present to attempt a send.
func (c SMTPConfig) Configured() bool {
	return c.Sender != "" && c.Receiver != "" && c.Password != ""
}

// Config holds the application configuration.
type Config struct {
	DatabaseURI    string
	TrackingURI    string
	ModelName      string
	ModelAlias     string
	ExperimentName string

	APIURL         string
	PollInterval   time.Duration
	FraudThreshold float64
	HTTPTimeout    time.Duration

	ChunkSize        int
	DatasetURL       string
	LocalModelPath   string
	TrainParallelism int

	SMTP SMTPConfig

	RedisAddr       string
	DedupTTL        time.Duration
	KafkaBroker     string
	KafkaAlertTopic string

	HTTPAddr    string
	CORSOrigins []string

	ReportSchedule string
	ReportLocation *time.Location

	LogLevel string
}

// Load reads .env (when present), the optional YAML file at configFile and the environment,
// in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	// A missing .env file is the normal case outside of local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(EnvTrackingURI, DefaultTrackingURI)
	v.SetDefault(EnvModelName, DefaultModelName)
	v.SetDefault(EnvModelAlias, DefaultModelAlias)
	v.SetDefault(EnvExperimentName, DefaultExperimentName)
	v.SetDefault(EnvAPIURL, DefaultAPIURL)
	v.SetDefault(EnvPollInterval, DefaultPollInterval)
	v.SetDefault(EnvFraudThreshold, DefaultFraudThreshold)
	v.SetDefault(EnvChunkSize, DefaultChunkSize)
	v.SetDefault(EnvDatasetURL, DefaultDatasetURL)
	v.SetDefault(EnvLocalModelPath, DefaultLocalModelPath)
	v.SetDefault(EnvSMTPHost, DefaultSMTPHost)
	v.SetDefault(EnvSMTPPort, DefaultSMTPPort)
	v.SetDefault(EnvDedupTTL, DefaultDedupTTL)
	v.SetDefault(EnvKafkaAlertTopic, DefaultKafkaTopic)
	v.SetDefault(EnvHTTPAddr, DefaultHTTPAddr)
	v.SetDefault(EnvCORSOrigins, DefaultCORSOrigin)
	v.SetDefault(EnvReportSchedule, DefaultReportSchedule)
	v.SetDefault(EnvReportTimezone, DefaultReportTimezone)
	v.SetDefault(EnvLogLevel, DefaultLogLevel)
	v.SetDefault(EnvHTTPTimeout, DefaultHTTPTimeout)
	v.SetDefault(EnvTrainParallelism, runtime.NumCPU())
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseURI:      v.GetString(EnvDatabaseURI),
		TrackingURI:      strings.TrimRight(v.GetString(EnvTrackingURI), "/"),
		ModelName:        v.GetString(EnvModelName),
		ModelAlias:       v.GetString(EnvModelAlias),
		ExperimentName:   v.GetString(EnvExperimentName),
		APIURL:           v.GetString(EnvAPIURL),
		PollInterval:     v.GetDuration(EnvPollInterval),
		FraudThreshold:   v.GetFloat64(EnvFraudThreshold),
		HTTPTimeout:      v.GetDuration(EnvHTTPTimeout),
		ChunkSize:        v.GetInt(EnvChunkSize),
		DatasetURL:       v.GetString(EnvDatasetURL),
		LocalModelPath:   v.GetString(EnvLocalModelPath),
		TrainParallelism: v.GetInt(EnvTrainParallelism),
		SMTP: SMTPConfig{
			Host:     v.GetString(EnvSMTPHost),
			Port:     v.GetInt(EnvSMTPPort),
			Sender:   v.GetString(EnvSenderEmail),
			Receiver: v.GetString(EnvReceiverEmail),
			Password: v.GetString(EnvAppPassword),
		},
		RedisAddr:       v.GetString(EnvRedisAddr),
		DedupTTL:        v.GetDuration(EnvDedupTTL),
		KafkaBroker:     v.GetString(EnvKafkaBroker),
		KafkaAlertTopic: v.GetString(EnvKafkaAlertTopic),
		HTTPAddr:        v.GetString(EnvHTTPAddr),
		CORSOrigins:     splitList(v.GetString(EnvCORSOrigins)),
		ReportSchedule:  v.GetString(EnvReportSchedule),
		LogLevel:        v.GetString(EnvLogLevel),
	}

	loc, err := time.LoadLocation(v.GetString(EnvReportTimezone))
	if err != nil {
		return nil, InvalidConfigError(EnvReportTimezone, err.Error())
	}
	cfg.ReportLocation = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks settings that would otherwise fail far from where they were set.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return InvalidConfigError(EnvPollInterval, "must be positive")
	}
	if c.ChunkSize <= 0 {
		return InvalidConfigError(EnvChunkSize, "must be positive")
	}
	if c.FraudThreshold <= 0 || c.FraudThreshold >= 1 {
		return InvalidConfigError(EnvFraudThreshold, "must be in (0, 1)")
	}
	if c.TrainParallelism <= 0 {
		c.TrainParallelism = 1
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
