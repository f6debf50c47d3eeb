package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type AppConfig struct {
	ServiceName string     `mapstructure:"service_name"`
	Env         string     `mapstructure:"env"`
	LogLevel    string     `mapstructure:"log_level"`
	MetricsPath string     `mapstructure:"metrics_path"`
	HTTP        HTTPConfig `mapstructure:"http"`
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type KafkaTopics struct {
	RidesCompleted   string
	RidesCancelled   string
	LedgerRecorded   string
	DriversSuspended string
	DeadLetter       string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type FinanceConfig struct {
	// CommissionPercent is the single authoritative commission rate applied
	// to completed ride fares. Expressed as a percentage, e.g. 20 for 20%.
	CommissionPercent float64
	Currency          string
}

type RiskRuleConfig struct {
	Name      string  `mapstructure:"name"`
	Trigger   string  `mapstructure:"trigger"`
	Threshold float64 `mapstructure:"threshold"`
	Action    string  `mapstructure:"action"`
}

type Config struct {
	App       AppConfig
	DB        DBConfig
	Kafka     KafkaConfig
	Finance   FinanceConfig
	RiskRules []RiskRuleConfig
	JWTSecret string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FINCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path := os.Getenv("FINCORE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var rules []RiskRuleConfig
	if err := v.UnmarshalKey("risk.rules", &rules); err != nil {
		return nil, fmt.Errorf("unmarshal risk rules: %w", err)
	}
	if len(rules) == 0 {
		rules = []RiskRuleConfig{
			{
				Name:      "auto-suspend-high-risk",
				Trigger:   "high_risk_score",
				Threshold: 50,
				Action:    "suspend_driver",
			},
		}
	}

	cfg := &Config{
		App: AppConfig{
			ServiceName: envString("FINCORE_SERVICE_NAME", v.GetString("app.service_name")),
			Env:         envString("FINCORE_ENV", v.GetString("app.env")),
			LogLevel:    envString("FINCORE_LOG_LEVEL", v.GetString("app.log_level")),
			MetricsPath: v.GetString("app.metrics_path"),
			HTTP: HTTPConfig{
				Host:         envString("FINCORE_HTTP_HOST", v.GetString("app.http.host")),
				Port:         envInt("FINCORE_HTTP_PORT", v.GetInt("app.http.port")),
				ReadTimeout:  envDuration("FINCORE_HTTP_READ_TIMEOUT", v.GetDuration("app.http.read_timeout")),
				WriteTimeout: envDuration("FINCORE_HTTP_WRITE_TIMEOUT", v.GetDuration("app.http.write_timeout")),
				IdleTimeout:  envDuration("FINCORE_HTTP_IDLE_TIMEOUT", v.GetDuration("app.http.idle_timeout")),
			},
		},
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "fincore"),
			User:     envString("POSTGRES_USER", "fincore"),
			Password: envString("POSTGRES_PASSWORD", "fincore"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				RidesCompleted:   envString("KAFKA_RIDES_COMPLETED_TOPIC", v.GetString("kafka.topics.rides_completed")),
				RidesCancelled:   envString("KAFKA_RIDES_CANCELLED_TOPIC", v.GetString("kafka.topics.rides_cancelled")),
				LedgerRecorded:   envString("KAFKA_LEDGER_RECORDED_TOPIC", v.GetString("kafka.topics.ledger_recorded")),
				DriversSuspended: envString("KAFKA_DRIVERS_SUSPENDED_TOPIC", v.GetString("kafka.topics.drivers_suspended")),
				DeadLetter:       envString("KAFKA_DEAD_LETTER_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Finance: FinanceConfig{
			CommissionPercent: envFloat("FINCORE_COMMISSION_PERCENT", v.GetFloat64("finance.commission_percent")),
			Currency:          envString("FINCORE_CURRENCY", v.GetString("finance.currency")),
		},
		RiskRules: rules,
		JWTSecret: envString("FINCORE_JWT_SECRET", v.GetString("auth.jwt_secret")),
	}

	if cfg.App.HTTP.Port <= 0 {
		return nil, fmt.Errorf("http port must be positive")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if cfg.Kafka.Topics.RidesCompleted == "" {
		return nil, fmt.Errorf("kafka rides completed topic required")
	}
	if cfg.Finance.CommissionPercent < 0 || cfg.Finance.CommissionPercent > 100 {
		return nil, fmt.Errorf("commission percent must be within [0,100]")
	}
	if cfg.Finance.Currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	for _, rule := range cfg.RiskRules {
		if rule.Trigger != "high_risk_score" {
			return nil, fmt.Errorf("unknown risk rule trigger %q", rule.Trigger)
		}
		if rule.Action != "suspend_driver" && rule.Action != "flag_review" {
			return nil, fmt.Errorf("unknown risk rule action %q", rule.Action)
		}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.service_name", "fincore")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.metrics_path", "/metrics")
	v.SetDefault("app.http.host", "0.0.0.0")
	v.SetDefault("app.http.port", 8080)
	v.SetDefault("app.http.read_timeout", "5s")
	v.SetDefault("app.http.write_timeout", "10s")
	v.SetDefault("app.http.idle_timeout", "60s")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "fincore")
	v.SetDefault("kafka.topics.rides_completed", "rides.completed")
	v.SetDefault("kafka.topics.rides_cancelled", "rides.cancelled")
	v.SetDefault("kafka.topics.ledger_recorded", "ledger.recorded")
	v.SetDefault("kafka.topics.drivers_suspended", "drivers.suspended")
	v.SetDefault("kafka.topics.dead_letter", "fincore.dlq")
	v.SetDefault("finance.commission_percent", 20.0)
	v.SetDefault("finance.currency", "INR")
	v.SetDefault("auth.jwt_secret", "")
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
