package core

import (
	"log"
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
	Config struct {
		AppName           string `mapstructure:"appName"`
		Env               string `mapstructure:"env"`
		Build             string `mapstructure:"build"`
		Debug             bool   `mapstructure:"debug"`
		TestMode          bool   `mapstructure:"testMode"`
		WorkDir           string `mapstructure:"workDir"`
		SecretKey         string `mapstructure:"secretKey"`
		FrontendBaseURL   string `mapstructure:"frontendBaseURL"`
		DefaultFromEmailS string `mapstructure:"defaultFromEmail"`
		RollbarToken      string `mapstructure:"rollbarToken"`
		SendgridApiKey    string `mapstructure:"sendgridApiKey"`

		Server   ServerConfig   `mapstructure:"server"`
		Database DatabaseConfig `mapstructure:"database"`
		Cache    CacheConfig    `mapstructure:"cache"`
		Quiz     QuizConfig     `mapstructure:"quiz"`
	}

	ServerConfig struct {
		Host                      string        `mapstructure:"host"`
		Address                   string        `mapstructure:"address"`
		DebugHost                 string        `mapstructure:"debugHost"`
		ShutdownTimeout           time.Duration `mapstructure:"shutdownTimeout"`
		JWTExpirationDelta        time.Duration `mapstructure:"jwtExpirationDelta"`
		JWTRefreshExpirationDelta time.Duration `mapstructure:"jwtRefreshExpirationDelta"`
		PasswordResetTimeoutDelta time.Duration `mapstructure:"passwordResetTimeoutDelta"`
	}

	DatabaseConfig struct {
		Engine        string `mapstructure:"engine"`
		Host          string `mapstructure:"host"`
		Port          int    `mapstructure:"port"`
		Name          string `mapstructure:"name"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		AdminUser     string `mapstructure:"adminUser"`
		AdminPassword string `mapstructure:"adminPassword"`
		DisableTLS    bool   `mapstructure:"disableTLS"`
		InMemory      bool   `mapstructure:"inMemory"` // DEV only: skip postgres entirely
	}

	CacheConfig struct {
		Backend       string        `mapstructure:"backend"` // memory | redis
		RedisAddr     string        `mapstructure:"redisAddr"`
		RedisPassword string        `mapstructure:"redisPassword"`
		RedisDB       int           `mapstructure:"redisDB"`
		AttendanceTTL time.Duration `mapstructure:"attendanceTTL"`
		ReceiptTTL    time.Duration `mapstructure:"receiptTTL"`
	}

	QuizConfig struct {
		SweepInterval        time.Duration `mapstructure:"sweepInterval"`
		DefaultMaxViolations int           `mapstructure:"defaultMaxViolations"`
	}
)

// Address returns the "host:port" of the database server.
func (dc DatabaseConfig) Address() string {
	return dc.Host + ":" + strconv.Itoa(dc.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmailS)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromEmailS}
	}
	return *addr
}

// NewConfig loads the configuration of the current ENV (DEV, TEST, QA, PROD).
// Values are read from `config/.env.<env>` (if present) then from env vars prefixed with the ENV,
// eg: DEV_DATABASE_HOST overrides database.host.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetDefault("env", env)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	workDir := v.GetString("workDir")
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		log.Fatalf("config.Unmarshal: %v", err)
	}
	return conf
}

func setDefaults(v *viper.Viper) {
	wd, _ := os.Getwd()

	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "Eduro")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("workDir", wd)
	v.SetDefault("secretKey", "k1x9-p(2w$ev+u@58q3l=vz&rd0^hz!m7c#t4_y*oebga6jn")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Eduro <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 10*time.Minute)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server.passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "eduro")
	v.SetDefault("database.user", "eduro")
	v.SetDefault("database.password", "eduro")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.inMemory", false)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redisAddr", "localhost:6379")
	v.SetDefault("cache.redisPassword", "")
	v.SetDefault("cache.redisDB", 0)
	v.SetDefault("cache.attendanceTTL", 5*time.Minute)
	v.SetDefault("cache.receiptTTL", 5*time.Minute)

	v.SetDefault("quiz.sweepInterval", 30*time.Second)
	v.SetDefault("quiz.defaultMaxViolations", 3)
}

// NewTestConfig returns a Config suitable for tests (no env lookups).
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v)
	v.Set("env", "TEST")
	v.Set("testMode", true)
	v.Set("secretKey", "secret")

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		log.Fatalf("config.Unmarshal: %v", err)
	}
	return conf
}
