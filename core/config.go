package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Build                     string
		Env                       string // DEV (local; default), TEST, QA, PROD
		Debug                     bool
		TestMode                  bool
		AppName                   string
		SecretKey                 string
		WorkDir                   string
		FrontendBaseURL           string
		DefaultFromEmail          mail.Address
		RollbarToken              string
		SendgridAPIKey            string
		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Billing  BillingConfig
		Zoom     ZoomConfig
		Storage  StorageConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		DisableReqLogs            bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	BillingConfig struct {
		StripeSecretKey     string
		StripeWebhookSecret string
		StripePriceID       string
		CheckoutSuccessURL  string
		CheckoutCancelURL   string
		GracePeriod         time.Duration
	}

	ZoomConfig struct {
		AccountID    string
		ClientID     string
		ClientSecret string
		OAuthURL     string
		APIBaseURL   string
	}

	StorageConfig struct {
		Driver          string // local | oss
		MediaDir        string
		MediaURL        string
		OSSEndpoint     string
		OSSAccessKey    string
		OSSSecretKey    string
		OSSBucket       string
		SignedURLExpiry time.Duration
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c ZoomConfig) Enabled() bool {
	return c.AccountID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// NewConfig loads the configuration of the current ENV from defaults, the optional `config/.env.<env>` file
// and environment variables prefixed with the ENV name (eg. PROD_DATABASE_HOST).
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
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}

	return &Config{
		Build:                     v.GetString("build"),
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		WorkDir:                   workDir,
		FrontendBaseURL:           strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		DefaultFromEmail:          *from,
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridAPIKey:            v.GetString("sendgridAPIKey"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			DisableReqLogs:            v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Billing: BillingConfig{
			StripeSecretKey:     v.GetString("billing.stripeSecretKey"),
			StripeWebhookSecret: v.GetString("billing.stripeWebhookSecret"),
			StripePriceID:       v.GetString("billing.stripePriceID"),
			CheckoutSuccessURL:  v.GetString("billing.checkoutSuccessURL"),
			CheckoutCancelURL:   v.GetString("billing.checkoutCancelURL"),
			GracePeriod:         v.GetDuration("billing.gracePeriod"),
		},
		Zoom: ZoomConfig{
			AccountID:    v.GetString("zoom.accountID"),
			ClientID:     v.GetString("zoom.clientID"),
			ClientSecret: v.GetString("zoom.clientSecret"),
			OAuthURL:     v.GetString("zoom.oauthURL"),
			APIBaseURL:   v.GetString("zoom.apiBaseURL"),
		},
		Storage: StorageConfig{
			Driver:          v.GetString("storage.driver"),
			MediaDir:        v.GetString("storage.mediaDir"),
			MediaURL:        v.GetString("storage.mediaURL"),
			OSSEndpoint:     v.GetString("storage.ossEndpoint"),
			OSSAccessKey:    v.GetString("storage.ossAccessKey"),
			OSSSecretKey:    v.GetString("storage.ossSecretKey"),
			OSSBucket:       v.GetString("storage.ossBucket"),
			SignedURLExpiry: v.GetDuration("storage.signedURLExpiry"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Lingua")
	v.SetDefault("secretKey", "k2#v9m!x7q$w^t4z&b8n*e1r(c6y)u3p@h5j%g0d")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Lingua <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridAPIKey", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "lingua")
	v.SetDefault("database.user", "lingua")
	v.SetDefault("database.password", "lingua")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("billing.stripeSecretKey", "")
	v.SetDefault("billing.stripeWebhookSecret", "")
	v.SetDefault("billing.stripePriceID", "")
	v.SetDefault("billing.checkoutSuccessURL", "http://localhost:3000/billing/success")
	v.SetDefault("billing.checkoutCancelURL", "http://localhost:3000/billing")
	v.SetDefault("billing.gracePeriod", 3*24*time.Hour)

	v.SetDefault("zoom.accountID", "")
	v.SetDefault("zoom.clientID", "")
	v.SetDefault("zoom.clientSecret", "")
	v.SetDefault("zoom.oauthURL", "https://zoom.us/oauth/token")
	v.SetDefault("zoom.apiBaseURL", "https://api.zoom.us/v2")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.mediaDir", "media")
	v.SetDefault("storage.mediaURL", "http://localhost:8000/media")
	v.SetDefault("storage.ossEndpoint", "")
	v.SetDefault("storage.ossAccessKey", "")
	v.SetDefault("storage.ossSecretKey", "")
	v.SetDefault("storage.ossBucket", "")
	v.SetDefault("storage.signedURLExpiry", 15*time.Minute)
}

// NewTestConfig returns a Config suitable for tests: no env lookup, no external services.
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v)
	return &Config{
		Build:                     "test",
		Env:                       "TEST",
		TestMode:                  true,
		AppName:                   v.GetString("appName"),
		SecretKey:                 "secret",
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromEmail:          mail.Address{Name: "Lingua", Address: "noreply@localhost"},
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      "localhost",
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			DisableReqLogs:            true,
		},
		Billing: BillingConfig{
			StripeWebhookSecret: "whsec_test",
			GracePeriod:         v.GetDuration("billing.gracePeriod"),
		},
		Storage: StorageConfig{
			Driver:          "local",
			MediaURL:        v.GetString("storage.mediaURL"),
			SignedURLExpiry: v.GetDuration("storage.signedURLExpiry"),
		},
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (%s) env=%s debug=%t", c.AppName, c.Build, c.Env, c.Debug)
}
