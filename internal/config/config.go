package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	Logging    LoggingConfig    `yaml:"logging"`
	Cache      CacheConfig      `yaml:"cache"`
	Prediction PredictionConfig `yaml:"prediction"`
	Decision   DecisionConfig   `yaml:"decision"`
	Templates  TemplatesConfig  `yaml:"templates"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Training   TrainingConfig   `yaml:"training"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// AdminToken guards /admin; empty leaves the admin surface open, which
	// is only meant for local development.
	AdminToken string `yaml:"admin_token"`
	// ModelSyncSeconds is how often the server re-reads model_versions
	// to pick up versions the worker published.
	ModelSyncSeconds int `yaml:"model_sync_seconds"`
}

// ModelSync returns the model_versions polling interval.
func (c ServerConfig) ModelSync() time.Duration {
	return time.Duration(c.ModelSyncSeconds) * time.Second
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// NATSConfig holds event bus settings. An empty URL disables events.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LoggingConfig holds the structured logger level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// CacheConfig holds prediction cache settings.
type CacheConfig struct {
	FastTierSize      int    `yaml:"fast_tier_size"`
	Shards            int    `yaml:"shards"`
	BaseTTLMinutes    int    `yaml:"base_ttl_minutes"`
	MinTTLMinutes     int    `yaml:"min_ttl_minutes"`
	MaxTTLMinutes     int    `yaml:"max_ttl_minutes"`
	PersistentBackend string `yaml:"persistent_backend"` // postgres | redis | dynamodb | none
	DynamoDBTable     string `yaml:"dynamodb_table"`
	DynamoDBRegion    string `yaml:"dynamodb_region"`
	WarmRecentHours   int    `yaml:"warm_recent_hours"`
	WarmLimit         int    `yaml:"warm_limit"`
}

// BaseTTL returns the unscaled prediction TTL.
func (c CacheConfig) BaseTTL() time.Duration {
	return time.Duration(c.BaseTTLMinutes) * time.Minute
}

// MinTTL returns the lower TTL clamp.
func (c CacheConfig) MinTTL() time.Duration {
	return time.Duration(c.MinTTLMinutes) * time.Minute
}

// MaxTTL returns the upper TTL clamp.
func (c CacheConfig) MaxTTL() time.Duration {
	return time.Duration(c.MaxTTLMinutes) * time.Minute
}

// PredictionConfig holds feature and inference settings.
type PredictionConfig struct {
	LookbackDays   int `yaml:"lookback_days"`
	MinActivities  int `yaml:"min_activities"`
	DeadlineMillis int `yaml:"deadline_millis"`
	NewAccountDays int `yaml:"new_account_days"`
}

// Deadline returns the per-user computation deadline.
func (c PredictionConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineMillis) * time.Millisecond
}

// DecisionConfig holds trigger thresholds and suppression settings.
type DecisionConfig struct {
	HabitBoostMaxProbability float64        `yaml:"habit_boost_max_probability"`
	ReengagementMinGapDays   int            `yaml:"reengagement_min_gap_days"`
	ReengagementMaxGapDays   int            `yaml:"reengagement_max_gap_days"`
	MinCategoryWeight        float64        `yaml:"min_category_weight"`
	MilestoneDays            []int          `yaml:"milestone_days"`
	CooldownHours            map[string]int `yaml:"cooldown_hours"` // keyed by frequency preference
	PeakWindows              int            `yaml:"peak_windows"`
}

// Cooldown returns the cooldown for a frequency preference, or fallback
// when the preference is not configured.
func (c DecisionConfig) Cooldown(pref string, fallback time.Duration) time.Duration {
	if h, ok := c.CooldownHours[pref]; ok && h > 0 {
		return time.Duration(h) * time.Hour
	}
	return fallback
}

// TemplatesConfig holds template selection settings.
type TemplatesConfig struct {
	ExperimentID string `yaml:"experiment_id"`
}

// DeliveryConfig holds push gateway settings.
type DeliveryConfig struct {
	PushGatewayURL    string `yaml:"push_gateway_url"`
	PushGatewayToken  string `yaml:"push_gateway_token"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	MaxAttempts       int    `yaml:"max_attempts"`
	ExpireAfterHours  int    `yaml:"expire_after_hours"`
	BackoffBaseMillis int    `yaml:"backoff_base_millis"`
}

// Timeout returns the configured timeout as a duration
func (c DeliveryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExpireAfter returns how long a delivered message may sit untouched.
func (c DeliveryConfig) ExpireAfter() time.Duration {
	return time.Duration(c.ExpireAfterHours) * time.Hour
}

// BackoffBase returns the first retry delay for the push gateway.
func (c DeliveryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

// JobConfig holds the cadence of one scheduled job. StartHour == EndHour
// means the job may run at any hour.
type JobConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	StartHour       int  `yaml:"start_hour"`
	EndHour         int  `yaml:"end_hour"`
	TimeoutSeconds  int  `yaml:"timeout_seconds"`
	Retries         int  `yaml:"retries"`
	Disabled        bool `yaml:"disabled"`
}

// Interval returns the job cadence.
func (c JobConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout returns the per-run deadline.
func (c JobConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	Generation         JobConfig `yaml:"generation"`
	Delivery           JobConfig `yaml:"delivery"`
	Rollup             JobConfig `yaml:"rollup"`
	Cleanup            JobConfig `yaml:"cleanup"`
	Health             JobConfig `yaml:"health"`
	Retrain            JobConfig `yaml:"retrain"`
	Warm               JobConfig `yaml:"warm"`
	BatchSize          int       `yaml:"batch_size"`
	Parallelism        int       `yaml:"parallelism"`
	ActiveWithinDays   int       `yaml:"active_within_days"`
	RetentionDays      int       `yaml:"retention_days"`
	ActedRetentionDays int       `yaml:"acted_retention_days"`
	StuckGraceMinutes  int       `yaml:"stuck_grace_minutes"`
}

// StuckGrace returns how long a message may sit past its scheduled time.
func (c SchedulerConfig) StuckGrace() time.Duration {
	return time.Duration(c.StuckGraceMinutes) * time.Minute
}

// TrainingConfig holds offline training pipeline settings.
type TrainingConfig struct {
	DatasetSource       string    `yaml:"dataset_source"` // activities | sql
	SQLDriver           string    `yaml:"sql_driver"`     // snowflake | postgres
	SnowflakeDSN        string    `yaml:"snowflake_dsn"`
	DatasetQuery        string    `yaml:"dataset_query"`
	WindowDays          int       `yaml:"window_days"`
	LabelHorizonDays    int       `yaml:"label_horizon_days"`
	CVFolds             int       `yaml:"cv_folds"`
	HoldoutFraction     float64   `yaml:"holdout_fraction"`
	Tolerance           float64   `yaml:"tolerance"`
	MaxModelAgeHours    int       `yaml:"max_model_age_hours"`
	MinNewActivities    int       `yaml:"min_new_activities"`
	GracePeriodHours    int       `yaml:"grace_period_hours"`
	LearningRates       []float64 `yaml:"learning_rates"`
	L2Penalties         []float64 `yaml:"l2_penalties"`
	Epochs              int       `yaml:"epochs"`
	TimingSmoothingGrid []float64 `yaml:"timing_smoothing_grid"`
}

// MaxModelAge returns the staleness threshold for the active model.
func (c TrainingConfig) MaxModelAge() time.Duration {
	return time.Duration(c.MaxModelAgeHours) * time.Hour
}

// GracePeriod returns how long superseded versions are retained.
func (c TrainingConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodHours) * time.Hour
}

// ArtifactsConfig holds model artifact storage configuration
type ArtifactsConfig struct {
	Type       string `yaml:"type"` // local | s3
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)

	// Static keys, for deployments outside AWS. Both must be set.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ArtifactsConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultMilestoneDays are the streak lengths that trigger a milestone message.
var DefaultMilestoneDays = []int{3, 7, 14, 21, 30, 50, 75, 100, 150, 200, 365}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for binaries
// started without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ModelSyncSeconds <= 0 {
		cfg.Server.ModelSyncSeconds = 60
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "coach"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	// Cache defaults
	if cfg.Cache.FastTierSize == 0 {
		cfg.Cache.FastTierSize = 50000
	}
	if cfg.Cache.Shards == 0 {
		cfg.Cache.Shards = 32
	}
	if cfg.Cache.BaseTTLMinutes == 0 {
		cfg.Cache.BaseTTLMinutes = 360
	}
	if cfg.Cache.MinTTLMinutes == 0 {
		cfg.Cache.MinTTLMinutes = 30
	}
	if cfg.Cache.MaxTTLMinutes == 0 {
		cfg.Cache.MaxTTLMinutes = 1440
	}
	if cfg.Cache.PersistentBackend == "" {
		cfg.Cache.PersistentBackend = "postgres"
	}
	if cfg.Cache.DynamoDBTable == "" {
		cfg.Cache.DynamoDBTable = "coach-prediction-cache"
	}
	if cfg.Cache.DynamoDBRegion == "" {
		cfg.Cache.DynamoDBRegion = "us-west-2"
	}
	if cfg.Cache.WarmRecentHours == 0 {
		cfg.Cache.WarmRecentHours = 48
	}
	if cfg.Cache.WarmLimit == 0 {
		cfg.Cache.WarmLimit = 5000
	}

	// Prediction defaults
	if cfg.Prediction.LookbackDays == 0 {
		cfg.Prediction.LookbackDays = 60
	}
	if cfg.Prediction.MinActivities == 0 {
		cfg.Prediction.MinActivities = 3
	}
	if cfg.Prediction.DeadlineMillis == 0 {
		cfg.Prediction.DeadlineMillis = 2000
	}
	if cfg.Prediction.NewAccountDays == 0 {
		cfg.Prediction.NewAccountDays = 7
	}

	// Decision defaults
	if cfg.Decision.HabitBoostMaxProbability == 0 {
		cfg.Decision.HabitBoostMaxProbability = 0.5
	}
	if cfg.Decision.ReengagementMinGapDays == 0 {
		cfg.Decision.ReengagementMinGapDays = 7
	}
	if cfg.Decision.ReengagementMaxGapDays == 0 {
		cfg.Decision.ReengagementMaxGapDays = 14
	}
	if cfg.Decision.MinCategoryWeight == 0 {
		cfg.Decision.MinCategoryWeight = 0.2
	}
	if len(cfg.Decision.MilestoneDays) == 0 {
		cfg.Decision.MilestoneDays = append([]int(nil), DefaultMilestoneDays...)
	}
	if cfg.Decision.CooldownHours == nil {
		cfg.Decision.CooldownHours = map[string]int{
			"minimal":  168,
			"moderate": 48,
			"daily":    24,
			"high":     12,
		}
	}
	if cfg.Decision.PeakWindows == 0 {
		cfg.Decision.PeakWindows = 3
	}

	if cfg.Templates.ExperimentID == "" {
		cfg.Templates.ExperimentID = "default"
	}

	// Delivery defaults
	if cfg.Delivery.TimeoutSeconds == 0 {
		cfg.Delivery.TimeoutSeconds = 10
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = 3
	}
	if cfg.Delivery.ExpireAfterHours == 0 {
		cfg.Delivery.ExpireAfterHours = 72
	}
	if cfg.Delivery.BackoffBaseMillis == 0 {
		cfg.Delivery.BackoffBaseMillis = 500
	}

	// Scheduler defaults
	defaultJob(&cfg.Scheduler.Generation, 3600, 8, 21, 1800)
	defaultJob(&cfg.Scheduler.Delivery, 60, 0, 0, 120)
	defaultJob(&cfg.Scheduler.Rollup, 86400, 1, 3, 600)
	defaultJob(&cfg.Scheduler.Cleanup, 7*86400, 2, 5, 1800)
	defaultJob(&cfg.Scheduler.Health, 3600, 0, 0, 60)
	defaultJob(&cfg.Scheduler.Retrain, 86400, 3, 5, 3600)
	defaultJob(&cfg.Scheduler.Warm, 6*3600, 4, 7, 1800)
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 200
	}
	if cfg.Scheduler.Parallelism == 0 {
		cfg.Scheduler.Parallelism = 8
	}
	if cfg.Scheduler.ActiveWithinDays == 0 {
		cfg.Scheduler.ActiveWithinDays = 30
	}
	if cfg.Scheduler.RetentionDays == 0 {
		cfg.Scheduler.RetentionDays = 90
	}
	if cfg.Scheduler.ActedRetentionDays == 0 {
		cfg.Scheduler.ActedRetentionDays = 365
	}
	if cfg.Scheduler.StuckGraceMinutes == 0 {
		cfg.Scheduler.StuckGraceMinutes = 30
	}

	// Training defaults
	if cfg.Training.DatasetSource == "" {
		cfg.Training.DatasetSource = "activities"
	}
	if cfg.Training.SQLDriver == "" {
		cfg.Training.SQLDriver = "snowflake"
	}
	if cfg.Training.WindowDays == 0 {
		cfg.Training.WindowDays = 90
	}
	if cfg.Training.LabelHorizonDays == 0 {
		cfg.Training.LabelHorizonDays = 7
	}
	if cfg.Training.CVFolds == 0 {
		cfg.Training.CVFolds = 5
	}
	if cfg.Training.HoldoutFraction == 0 {
		cfg.Training.HoldoutFraction = 0.2
	}
	if cfg.Training.Tolerance == 0 {
		cfg.Training.Tolerance = 0.02
	}
	if cfg.Training.MaxModelAgeHours == 0 {
		cfg.Training.MaxModelAgeHours = 7 * 24
	}
	if cfg.Training.MinNewActivities == 0 {
		cfg.Training.MinNewActivities = 500
	}
	if cfg.Training.GracePeriodHours == 0 {
		cfg.Training.GracePeriodHours = 48
	}
	if len(cfg.Training.LearningRates) == 0 {
		cfg.Training.LearningRates = []float64{0.05, 0.1, 0.3}
	}
	if len(cfg.Training.L2Penalties) == 0 {
		cfg.Training.L2Penalties = []float64{0, 0.01, 0.1}
	}
	if cfg.Training.Epochs == 0 {
		cfg.Training.Epochs = 200
	}
	if len(cfg.Training.TimingSmoothingGrid) == 0 {
		cfg.Training.TimingSmoothingGrid = []float64{1, 5, 20}
	}

	// Artifact storage defaults
	if cfg.Artifacts.Type == "" {
		cfg.Artifacts.Type = "local"
	}
	if cfg.Artifacts.LocalPath == "" {
		cfg.Artifacts.LocalPath = "./data/models"
	}
	if cfg.Artifacts.S3Prefix == "" {
		cfg.Artifacts.S3Prefix = "models/"
	}
	if cfg.Artifacts.AWSRegion == "" {
		cfg.Artifacts.AWSRegion = "us-west-2"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func defaultJob(j *JobConfig, interval, startHour, endHour, timeout int) {
	if j.IntervalSeconds == 0 {
		j.IntervalSeconds = interval
		if j.StartHour == 0 && j.EndHour == 0 {
			j.StartHour = startHour
			j.EndHour = endHour
		}
	}
	if j.TimeoutSeconds == 0 {
		j.TimeoutSeconds = timeout
	}
	if j.Retries == 0 {
		j.Retries = 2
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// An empty path skips the file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SNOWFLAKE_DSN"); v != "" {
		cfg.Training.SnowflakeDSN = v
		cfg.Training.DatasetSource = "sql"
		cfg.Training.SQLDriver = "snowflake"
	}
	if v := os.Getenv("ARTIFACT_AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Artifacts.AccessKeyID = v
	}
	if v := os.Getenv("ARTIFACT_AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Artifacts.SecretAccessKey = v
	}
	if v := os.Getenv("ARTIFACT_S3_BUCKET"); v != "" {
		cfg.Artifacts.S3Bucket = v
		cfg.Artifacts.Type = "s3"
	}
	if v := os.Getenv("PUSH_GATEWAY_URL"); v != "" {
		cfg.Delivery.PushGatewayURL = v
	}
	if v := os.Getenv("PUSH_GATEWAY_TOKEN"); v != "" {
		cfg.Delivery.PushGatewayToken = v
	}
	if v := os.Getenv("ADMIN_API_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.PersistentBackend = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	return cfg, nil
}
