package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Address            string
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // "postgres" | "memory"
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		LockTTL  time.Duration
	}

	RealtimeConfig struct {
		SendBuffer     int
		WriteWait      time.Duration
		PongWait       time.Duration
		AllowedOrigins []string
	}

	ScheduleConfig struct {
		// AllowNonOccurrenceFromAvailable lets an `available` session be marked absent/leave.
		AllowNonOccurrenceFromAvailable bool
		// AuditSpec is the cron spec of the orphaned recurrence chains audit. Empty disables it.
		AuditSpec string
	}

	Config struct {
		Debug            bool
		TestMode         bool
		AppName          string
		Env              string
		Build            string
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail mail.Address
		OpsEmails        []mail.Address
		Timezone         *time.Location

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Realtime RealtimeConfig
		Schedule ScheduleConfig
	}
)

// Address returns the database host:port.
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewConfig loads the app configuration from defaults, an optional `config/.env.<env>` file
// and environment variables prefixed by the current ENV (eg. PROD_SECRETKEY).
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Ratiba")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("defaultFromEmail", "Ratiba <noreply@localhost>")
	conf.SetDefault("opsEmails", "")
	conf.SetDefault("timezone", "UTC")

	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.debugHost", ":4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", 5432)
	conf.SetDefault("database.name", "ratiba")
	conf.SetDefault("database.user", "ratiba")
	conf.SetDefault("database.password", "ratiba")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("redis.addr", "")
	conf.SetDefault("redis.password", "")
	conf.SetDefault("redis.db", 0)
	conf.SetDefault("redis.lockTTL", 10*time.Second)

	conf.SetDefault("realtime.sendBuffer", 256)
	conf.SetDefault("realtime.writeWait", 10*time.Second)
	conf.SetDefault("realtime.pongWait", 60*time.Second)
	conf.SetDefault("realtime.allowedOrigins", "")

	conf.SetDefault("schedule.allowNonOccurrenceFromAvailable", true)
	conf.SetDefault("schedule.auditSpec", "@hourly")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return fromViper(conf, env)
}

func fromViper(conf *viper.Viper, env string) *Config {
	from, err := mail.ParseAddress(conf.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}
	var ops []mail.Address
	if s := strings.TrimSpace(conf.GetString("opsEmails")); s != "" {
		addrs, err := mail.ParseAddressList(s)
		if err != nil {
			log.Fatalf("config.opsEmails: %v", err)
		}
		for _, a := range addrs {
			ops = append(ops, *a)
		}
	}
	tz, err := time.LoadLocation(conf.GetString("timezone"))
	if err != nil {
		log.Fatalf("config.timezone: %v", err)
	}

	return &Config{
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		AppName:          conf.GetString("appName"),
		Env:              env,
		Build:            conf.GetString("build"),
		SecretKey:        conf.GetString("secretKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		DefaultFromEmail: *from,
		OpsEmails:        ops,
		Timezone:         tz,
		Server: ServerConfig{
			Address:            conf.GetString("server.address"),
			Host:               conf.GetString("server.host"),
			DebugHost:          conf.GetString("server.debugHost"),
			ShutdownTimeout:    conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: conf.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetInt("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Redis: RedisConfig{
			Addr:     conf.GetString("redis.addr"),
			Password: conf.GetString("redis.password"),
			DB:       conf.GetInt("redis.db"),
			LockTTL:  conf.GetDuration("redis.lockTTL"),
		},
		Realtime: RealtimeConfig{
			SendBuffer:     conf.GetInt("realtime.sendBuffer"),
			WriteWait:      conf.GetDuration("realtime.writeWait"),
			PongWait:       conf.GetDuration("realtime.pongWait"),
			AllowedOrigins: splitList(conf.GetString("realtime.allowedOrigins")),
		},
		Schedule: ScheduleConfig{
			AllowNonOccurrenceFromAvailable: conf.GetBool("schedule.allowNonOccurrenceFromAvailable"),
			AuditSpec:                       conf.GetString("schedule.auditSpec"),
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
