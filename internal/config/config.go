package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "shardfall.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. SHARDFALL_STORE_TYPE.
const EnvPrefix = "SHARDFALL"

// StoreConfig selects and configures the shared store backend.
type StoreConfig struct {
	Type      string // memory, sqlite, postgres or websocket
	Timeout   time.Duration
	WebSocket WebSocketConfig
	SQLite    SQLiteConfig
	DB        DBConfig
}

type WebSocketConfig struct {
	URL          string
	Secret       string
	MaxReconnect int
}

type SQLiteConfig struct {
	Path         string // empty for an in-memory database
	PollInterval time.Duration
	DumpInterval time.Duration
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

type GameConfig struct {
	MoveSpeed     float64       // world units per second, shared by local and remote movement
	GatherRange   float64
	SnapThreshold float64
	StaleAfter    time.Duration
	ClaimGrace    time.Duration
	TickRate      int // frames per second
}

// TickInterval is the frame period for TickRate.
func (g GameConfig) TickInterval() time.Duration {
	if g.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(g.TickRate)
}

type WorldConfig struct {
	CatalogPath string
	Seed        int64
	Width       float64
	Height      float64
	NodeCount   int
}

type PublishConfig struct {
	Interval  time.Duration
	Heartbeat time.Duration
}

type RelayConfig struct {
	Listen     string
	Secret     string
	WriteRate  float64
	WriteBurst int
}

type InfluxConfig struct {
	Enabled    bool
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

type LogConfig struct {
	Level          string
	Dir            string
	GraylogEnabled bool
	GraylogAddress string
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("dataDir", "./data")

	viper.SetDefault("player.displayName", "")

	viper.SetDefault("store.type", "memory")
	viper.SetDefault("store.timeout", "5s")
	viper.SetDefault("store.websocket.url", "ws://localhost:8090/ws")
	viper.SetDefault("store.websocket.secret", "")
	viper.SetDefault("store.websocket.maxReconnect", 0)
	viper.SetDefault("store.sqlite.path", "")
	viper.SetDefault("store.sqlite.pollInterval", "1s")
	viper.SetDefault("store.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "shardfall")

	viper.SetDefault("world.catalogPath", "")
	viper.SetDefault("world.seed", 1337)
	viper.SetDefault("world.width", 2000.0)
	viper.SetDefault("world.height", 2000.0)
	viper.SetDefault("world.nodeCount", 60)

	viper.SetDefault("game.moveSpeed", 200.0)
	viper.SetDefault("game.gatherRange", 50.0)
	viper.SetDefault("game.snapThreshold", 5.0)
	viper.SetDefault("game.staleAfter", "5m")
	viper.SetDefault("game.claimGrace", "2s")
	viper.SetDefault("game.tickRate", 60)

	viper.SetDefault("publish.interval", "1500ms")
	viper.SetDefault("publish.heartbeat", "30s")

	viper.SetDefault("relay.listen", ":8090")
	viper.SetDefault("relay.secret", "")
	viper.SetDefault("relay.writeRate", 20.0)
	viper.SetDefault("relay.writeBurst", 40)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "shardfall")
	viper.SetDefault("influx.bucket", "gameplay")
	viper.SetDefault("influx.backupPath", "./data/influx_backup.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "shardfall")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load sets defaults, loads configDir/.env into the environment, enables
// SHARDFALL_ overrides and reads configDir/shardfall.cfg.json if present.
func Load(configDir string) error {
	setDefaults()

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env: %v", err)
	}
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}
	return nil
}

// BindFlags lets command-line flags override config keys. keys maps a flag
// name to the config key it sets.
func BindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    strings.ToLower(viper.GetString("store.type")),
		Timeout: viper.GetDuration("store.timeout"),
		WebSocket: WebSocketConfig{
			URL:          viper.GetString("store.websocket.url"),
			Secret:       viper.GetString("store.websocket.secret"),
			MaxReconnect: viper.GetInt("store.websocket.maxReconnect"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("store.sqlite.path"),
			PollInterval: viper.GetDuration("store.sqlite.pollInterval"),
			DumpInterval: viper.GetDuration("store.sqlite.dumpInterval"),
		},
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

func GetGameConfig() GameConfig {
	return GameConfig{
		MoveSpeed:     viper.GetFloat64("game.moveSpeed"),
		GatherRange:   viper.GetFloat64("game.gatherRange"),
		SnapThreshold: viper.GetFloat64("game.snapThreshold"),
		StaleAfter:    viper.GetDuration("game.staleAfter"),
		ClaimGrace:    viper.GetDuration("game.claimGrace"),
		TickRate:      viper.GetInt("game.tickRate"),
	}
}

func GetWorldConfig() WorldConfig {
	return WorldConfig{
		CatalogPath: viper.GetString("world.catalogPath"),
		Seed:        viper.GetInt64("world.seed"),
		Width:       viper.GetFloat64("world.width"),
		Height:      viper.GetFloat64("world.height"),
		NodeCount:   viper.GetInt("world.nodeCount"),
	}
}

func GetPublishConfig() PublishConfig {
	return PublishConfig{
		Interval:  viper.GetDuration("publish.interval"),
		Heartbeat: viper.GetDuration("publish.heartbeat"),
	}
}

func GetRelayConfig() RelayConfig {
	return RelayConfig{
		Listen:     viper.GetString("relay.listen"),
		Secret:     viper.GetString("relay.secret"),
		WriteRate:  viper.GetFloat64("relay.writeRate"),
		WriteBurst: viper.GetInt("relay.writeBurst"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		URL:        viper.GetString("influx.url"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

func GetLogConfig() LogConfig {
	return LogConfig{
		Level:          viper.GetString("logLevel"),
		Dir:            viper.GetString("logsDir"),
		GraylogEnabled: viper.GetBool("graylog.enabled"),
		GraylogAddress: viper.GetString("graylog.address"),
	}
}
