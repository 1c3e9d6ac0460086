package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	coreconfig "github.com/AzielCF/az-dispatch/core/config"
	coreDB "github.com/AzielCF/az-dispatch/core/database"
	"github.com/AzielCF/az-dispatch/infrastructure/provider"
	"github.com/AzielCF/az-dispatch/infrastructure/valkey"
	"github.com/AzielCF/az-dispatch/messaging"
	"github.com/AzielCF/az-dispatch/messaging/repository"
	"github.com/AzielCF/az-dispatch/pkg/crypto"
	"github.com/AzielCF/az-dispatch/pkg/msgworker"
	"github.com/AzielCF/az-dispatch/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

var (
	db       *gorm.DB
	vkClient *valkey.Client
	serverID string

	instanceRepo *repository.InstanceGormRepository
	jobRepo      *repository.JobGormRepository
	manager      *messaging.Manager
)

var rootCmd = &cobra.Command{
	Use:   "az-dispatch",
	Short: "Messaging channel pairing and bulk dispatch service",
	Long: `az-dispatch pairs messaging instances with a remote provider and sends
campaigns and scheduled dispatches through them.`,
}

func init() {
	// Load .env before flags so env values show up as flag defaults.
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig)
}

// flagBindings maps persistent flags onto the env keys core/config reads.
var flagBindings = map[string]string{
	"port":                "APP_PORT",
	"debug":               "APP_DEBUG",
	"base-path":           "APP_BASE_PATH",
	"basic-auth":          "APP_BASIC_AUTH",
	"db-driver":           "DB_DRIVER",
	"db-name":             "DB_NAME",
	"provider-url":        "PROVIDER_BASE_URL",
	"provider-key":        "PROVIDER_API_KEY",
	"verify-on-create":    "PROVIDER_VERIFY_ON_CREATE",
	"create-remote":       "PROVIDER_CREATE_REMOTE",
	"poll-interval":       "PAIRING_POLL_INTERVAL",
	"max-retries":         "PAIRING_MAX_RETRIES",
	"send-delay":          "DISPATCH_SEND_DELAY",
	"scheduler-interval":  "DISPATCH_SCHEDULER_INTERVAL",
	"dispatch-workers":    "DISPATCH_WORKER_POOL_SIZE",
	"dispatch-queue-size": "DISPATCH_WORKER_QUEUE_SIZE",
	"valkey":              "VALKEY_ENABLED",
	"valkey-address":      "VALKEY_ADDRESS",
}

func initFlags() {
	flags := rootCmd.PersistentFlags()

	flags.StringP("port", "p", "3000", "change port number with --port <number> | example: --port=8080")
	flags.BoolP("debug", "d", false, "hide or displaying log with --debug <true/false> | example: --debug=true")
	flags.String("base-path", "", `base path for subpath deployment --base-path <string> | example: --base-path="/dispatch"`)
	flags.StringP("basic-auth", "b", "", "basic auth credential | -b=yourUsername:yourPassword")

	flags.String("db-driver", "sqlite", `database driver --db-driver <sqlite|postgres>`)
	flags.String("db-name", "", `sqlite file or postgres database name | example: --db-name="storages/dispatch.db"`)

	flags.String("provider-url", "", `remote provider base url | example: --provider-url="https://bridge.example.com/webhook"`)
	flags.String("provider-key", "", "api key sent to the remote provider")
	flags.Bool("verify-on-create", false, "check instance credentials with the provider when they are created")
	flags.Bool("create-remote", true, "create the instance on the provider side when it is registered")

	flags.Duration("poll-interval", 5*time.Second, "interval between pairing confirmation checks")
	flags.Int("max-retries", 3, "rejected confirmations allowed before a pairing session is reset")
	flags.Duration("send-delay", time.Second, "pause between two messages of the same dispatch")
	flags.Duration("scheduler-interval", 30*time.Second, "how often due scheduled dispatches are looked up")

	flags.Int("dispatch-workers", 8, "number of dispatch workers | example: --dispatch-workers=16")
	flags.Int("dispatch-queue-size", 100, "jobs waiting for a free dispatch worker")

	flags.Bool("valkey", false, "coordinate schedulers across processes through valkey")
	flags.String("valkey-address", "localhost:6379", "valkey address host:port")

	for flag, key := range flagBindings {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// initEnvConfig pushes explicitly set flags into the environment and builds
// coreconfig.Global from it.
func initEnvConfig() {
	flags := rootCmd.PersistentFlags()
	for flag, key := range flagBindings {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			_ = os.Setenv(key, f.Value.String())
			continue
		}
		if os.Getenv(key) == "" && viper.IsSet(key) {
			_ = os.Setenv(key, viper.GetString(key))
		}
	}

	cfg, err := coreconfig.LoadConfig()
	if err != nil {
		logrus.Fatalf("[CONFIG] invalid configuration: %v", err)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// initApp opens storage and builds the messaging manager. It does not start
// background work; commands call manager.Start when they need it.
func initApp(ctx context.Context) {
	cfg := coreconfig.Global

	if err := utils.CreateFolder(cfg.Paths.Storages, cfg.Paths.SendItems); err != nil {
		logrus.Errorln(err)
	}
	serverID = utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)

	var err error
	db, err = coreDB.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[DATABASE] %v", err)
	}

	cipher, err := crypto.NewCipher(cfg.Security.SecretKey)
	if err != nil {
		logrus.Fatalf("[SECURITY] failed to build credential cipher: %v", err)
	}
	if cipher == nil {
		logrus.Warn("[SECURITY] APP_SECRET_KEY is empty, instance credentials are stored in plain text")
	}

	instanceRepo = repository.NewInstanceGormRepository(db, cipher)
	jobRepo = repository.NewJobGormRepository(db)
	if err := instanceRepo.Init(ctx); err != nil {
		logrus.Fatalf("[DATABASE] failed to migrate instances: %v", err)
	}
	if err := jobRepo.Init(ctx); err != nil {
		logrus.Fatalf("[DATABASE] failed to migrate dispatch jobs: %v", err)
	}

	if cfg.Database.ValkeyEnabled {
		vkClient, err = valkey.NewClient(valkey.ConfigFromApp(cfg.Database))
		if err != nil {
			logrus.Fatalf("[VALKEY] %v", err)
		}
		logrus.Infof("[VALKEY] connected to %s as %s", cfg.Database.ValkeyAddress, serverID)
	}

	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		logrus.Warn("[PROVIDER] PROVIDER_API_KEY is empty, requests go out unauthenticated")
	}
	remote := provider.NewHTTPProvider(cfg.Provider)

	manager = messaging.NewManager(cfg, instanceRepo, jobRepo, remote, msgworker.GetGlobalPool(), vkClient)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp stops background work and closes connections. Queued dispatches that
// never ran are marked failed by the pool shutdown.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if manager != nil {
		manager.Stop()
	}
	msgworker.StopGlobalPool()

	if vkClient != nil {
		vkClient.Close()
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
