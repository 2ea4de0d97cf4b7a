package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/arkade-os/cjd/internal/core/application"
	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	alertsmanager "github.com/arkade-os/cjd/internal/infrastructure/alertsmanager"
	"github.com/arkade-os/cjd/internal/infrastructure/archiver"
	"github.com/arkade-os/cjd/internal/infrastructure/credentials"
	"github.com/arkade-os/cjd/internal/infrastructure/db"
	"github.com/arkade-os/cjd/internal/infrastructure/esplora"
	"github.com/arkade-os/cjd/internal/infrastructure/feemanager"
	inmemorylivestore "github.com/arkade-os/cjd/internal/infrastructure/live-store/inmemory"
	redislivestore "github.com/arkade-os/cjd/internal/infrastructure/live-store/redis"
	"github.com/arkade-os/cjd/internal/infrastructure/ownership"
	timescheduler "github.com/arkade-os/cjd/internal/infrastructure/scheduler/gocron"
	tickerscheduler "github.com/arkade-os/cjd/internal/infrastructure/scheduler/ticker"
	txbuilder "github.com/arkade-os/cjd/internal/infrastructure/tx-builder/coinjoin"
	"github.com/arkade-os/cjd/internal/infrastructure/warden"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	supportedEventDbs = supportedType{
		"inmemory": {},
		"postgres": {},
	}
	supportedDbs = supportedType{
		"badger":   {},
		"sqlite":   {},
		"postgres": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
		"ticker": {},
	}
	supportedLiveStores = supportedType{
		"inmemory": {},
		"redis":    {},
	}
	supportedCredentialPolicies = supportedType{
		"exact":   {},
		"bounded": {},
	}
	supportedScriptTypes = supportedType{
		string(domain.ScriptTypeP2WPKH): {},
		string(domain.ScriptTypeP2TR):   {},
	}
	supportedNetworks = map[string]*chaincfg.Params{
		"bitcoin": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"regtest": &chaincfg.RegressionNetParams,
	}
)

type Config struct {
	Datadir     string
	Port        uint32
	AdminPort   uint32
	NoTLS       bool
	LogLevel    int
	EnablePprof bool

	DbType              string
	EventDbType         string
	DbDir               string
	DbUrl               string
	EventDbUrl          string
	SchedulerType       string
	LiveStoreType       string
	RedisUrl            string
	RedisTxNumOfRetries int

	Network               string
	CoordinatorIdentifier string
	EsploraURL            string
	AlertManagerURL       string
	StaticFeeRate         int64
	MinFeeRate            int64
	MaxFeeRate            int64

	CredentialPolicy   string
	CredentialMaxSlack int64

	MinRegistrableAmount       int64
	MaxRegistrableAmount       int64
	AmountDividers             []int64
	MinInputCount              int
	MaxInputCount              int
	MinInputAmount             int64
	MaxInputAmount             int64
	MinOutputAmount            int64
	MaxOutputAmount            int64
	AllowedInputTypes          []string
	AllowedOutputTypes         []string
	MaxVsizeAllocationPerAlice int64
	MaxTransactionVsize        int64

	InputRegistrationTimeout      time.Duration
	ConnectionConfirmationTimeout time.Duration
	OutputRegistrationTimeout     time.Duration
	TransactionSigningTimeout     time.Duration
	BlameInputRegistrationTimeout time.Duration
	ConnectionTimeout             time.Duration
	DelayTransactionSigning       bool
	TickPeriod                    time.Duration
	RoundRetention                time.Duration
	MaxWorkers                    int

	BanDurations domain.BanDurations

	OtelCollectorEndpoint string
	OtelPushInterval      int64

	repo      ports.RepoManager
	warden    ports.Warden
	archiver  ports.TxArchiver
	issuers   ports.CredentialIssuerFactory
	chain     esplora.Client
	feeRates  ports.FeeRateProvider
	scheduler ports.SchedulerService
	liveStore ports.LiveStore
	alerts    ports.Alerts
	clock     clock.Clock

	svc      application.Service
	adminSvc application.AdminService
}

func (c *Config) String() string {
	clone := *c
	clone.DbUrl = maskUrl(clone.DbUrl)
	clone.EventDbUrl = maskUrl(clone.EventDbUrl)
	clone.RedisUrl = maskUrl(clone.RedisUrl)
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir             = btcutil.AppDataDir("cjd", false)
	DefaultPort                = 37127
	DefaultAdminPort           = 37128
	defaultDbType              = "badger"
	defaultEventDbType         = "inmemory"
	defaultSchedulerType       = "gocron"
	defaultLiveStoreType       = "inmemory"
	defaultRedisTxNumOfRetries = 10
	defaultNetwork             = "regtest"
	defaultCoordinatorId       = "CoinJoinCoordinatorIdentifier"
	defaultEsploraURL          = "https://blockstream.info/api"
	defaultLogLevel            = 4
	defaultNoTLS               = true
	defaultEnablePprof         = false
	defaultCredentialPolicy    = "exact"

	defaultMinRegistrableAmount       = int64(5000)
	defaultMaxRegistrableAmount       = int64(43000000000000)
	defaultMinInputCount              = 21
	defaultMaxInputCount              = 400
	defaultMaxVsizeAllocationPerAlice = int64(255)
	defaultMaxTransactionVsize        = int64(100000)

	defaultInputRegistrationTimeout      = time.Hour
	defaultConnectionConfirmationTimeout = time.Minute
	defaultOutputRegistrationTimeout     = time.Minute
	defaultTransactionSigningTimeout     = time.Minute
	defaultBlameInputRegistrationTimeout = 3 * time.Minute
	defaultConnectionTimeout             = 10 * time.Minute
	defaultTickPeriod                    = time.Second
	defaultRoundRetention                = 10 * time.Minute
	defaultOtelPushInterval              = 10 // seconds
)

// env returns a list of strings prefixed with `CJD_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("CJD_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	Port = &cli.UintFlag{
		Usage: "Port (public) to listen on",
		Name:  "port", EnvVars: env("PORT"),
		Value: uint(DefaultPort),
	}

	AdminPort = &cli.UintFlag{
		Usage: "Admin port (private) to listen on, must differ from the service port",
		Name:  "admin-port", EnvVars: env("ADMIN_PORT"),
		Value: uint(DefaultAdminPort),
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	NoTLS = &cli.BoolFlag{
		Usage: "Disable TLS",
		Name:  "no-tls", EnvVars: env("NO_TLS"),
		Value: defaultNoTLS,
	}

	EnablePprof = &cli.BoolFlag{
		Usage: "Serve pprof endpoints under /debug/pprof",
		Name:  "enable-pprof", EnvVars: env("ENABLE_PPROF"),
		Value: defaultEnablePprof,
	}

	DbType = &cli.StringFlag{
		Usage: "Database type (postgres, sqlite, badger)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	DbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if CJD_DB_TYPE is set to postgres",
		Name:  "pg-db-url", EnvVars: env("PG_DB_URL"),
	}

	EventDbType = &cli.StringFlag{
		Usage: "Event database type (postgres, inmemory)",
		Name:  "event-db-type", EnvVars: env("EVENT_DB_TYPE"),
		Value: defaultEventDbType,
	}

	EventDbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if CJD_EVENT_DB_TYPE is set to postgres",
		Name:  "pg-event-db-url", EnvVars: env("PG_EVENT_DB_URL"),
	}

	SchedulerType = &cli.StringFlag{
		Usage: "Scheduler driving the arena tick (gocron, ticker)",
		Name:  "scheduler-type", EnvVars: env("SCHEDULER_TYPE"),
		Value: defaultSchedulerType,
	}

	LiveStoreType = &cli.StringFlag{
		Usage: "Store for the live round states (inmemory, redis)",
		Name:  "live-store-type", EnvVars: env("LIVE_STORE_TYPE"),
		Value: defaultLiveStoreType,
	}

	RedisUrl = &cli.StringFlag{
		Usage: "Redis connection url if CJD_LIVE_STORE_TYPE is set to redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	RedisTxNumOfRetries = &cli.IntFlag{
		Usage: "Max number of retries for redis write transactions",
		Name:  "redis-num-of-retries", EnvVars: env("REDIS_NUM_OF_RETRIES"),
		Value: defaultRedisTxNumOfRetries,
	}

	Network = &cli.StringFlag{
		Usage: "Bitcoin network (bitcoin, testnet, signet, regtest)",
		Name:  "network", EnvVars: env("NETWORK"),
		Value: defaultNetwork,
	}

	CoordinatorIdentifier = &cli.StringFlag{
		Usage: "Identifier committed to by every ownership proof",
		Name:  "coordinator-identifier", EnvVars: env("COORDINATOR_IDENTIFIER"),
		Value: defaultCoordinatorId,
	}

	EsploraURL = &cli.StringFlag{
		Usage: "Esplora API url used for fee estimation, broadcast and mempool checks",
		Name:  "esplora-url", EnvVars: env("ESPLORA_URL"),
		Value: defaultEsploraURL,
	}

	AlertManagerURL = &cli.StringFlag{
		Usage: "Alertmanager url, alerts are disabled if unset",
		Name:  "alert-manager-url", EnvVars: env("ALERT_MANAGER_URL"),
	}

	StaticFeeRate = &cli.Int64Flag{
		Usage: "Fixed mining fee rate in sats/kvB, uses esplora estimates if 0",
		Name:  "static-fee-rate", EnvVars: env("STATIC_FEE_RATE"),
	}

	MinFeeRate = &cli.Int64Flag{
		Usage: "Lower bound for the mining fee rate in sats/kvB",
		Name:  "min-fee-rate", EnvVars: env("MIN_FEE_RATE"),
	}

	MaxFeeRate = &cli.Int64Flag{
		Usage: "Upper bound for the mining fee rate in sats/kvB, unbounded if 0",
		Name:  "max-fee-rate", EnvVars: env("MAX_FEE_RATE"),
	}

	CredentialPolicy = &cli.StringFlag{
		Usage: "Balance check applied to credential requests (exact, bounded)",
		Name:  "credential-policy", EnvVars: env("CREDENTIAL_POLICY"),
		Value: defaultCredentialPolicy,
	}

	CredentialMaxSlack = &cli.Int64Flag{
		Usage: "Max value a bounded credential request may drop",
		Name:  "credential-max-slack", EnvVars: env("CREDENTIAL_MAX_SLACK"),
	}

	MinRegistrableAmount = &cli.Int64Flag{
		Usage: "Min amount (sats) of a registered input",
		Name:  "min-registrable-amount", EnvVars: env("MIN_REGISTRABLE_AMOUNT"),
		Value: defaultMinRegistrableAmount,
	}

	MaxRegistrableAmount = &cli.Int64Flag{
		Usage: "Max amount (sats) an alice can register",
		Name:  "max-registrable-amount", EnvVars: env("MAX_REGISTRABLE_AMOUNT"),
		Value: defaultMaxRegistrableAmount,
	}

	AmountDividers = &cli.Int64SliceFlag{
		Usage: "Dividers of the max registrable amount used as max suggested amount tiers",
		Name:  "amount-dividers", EnvVars: env("AMOUNT_DIVIDERS"),
	}

	MinInputCount = &cli.IntFlag{
		Usage: "Min number of confirmed inputs for a round to go on",
		Name:  "min-input-count", EnvVars: env("MIN_INPUT_COUNT"),
		Value: defaultMinInputCount,
	}

	MaxInputCount = &cli.IntFlag{
		Usage: "Max number of inputs of a round",
		Name:  "max-input-count", EnvVars: env("MAX_INPUT_COUNT"),
		Value: defaultMaxInputCount,
	}

	MinInputAmount = &cli.Int64Flag{
		Usage: "Min allowed input amount (sats), defaults to the min registrable amount",
		Name:  "min-input-amount", EnvVars: env("MIN_INPUT_AMOUNT"),
	}

	MaxInputAmount = &cli.Int64Flag{
		Usage: "Max allowed input amount (sats), defaults to the max registrable amount",
		Name:  "max-input-amount", EnvVars: env("MAX_INPUT_AMOUNT"),
	}

	MinOutputAmount = &cli.Int64Flag{
		Usage: "Min allowed output amount (sats), defaults to the min registrable amount",
		Name:  "min-output-amount", EnvVars: env("MIN_OUTPUT_AMOUNT"),
	}

	MaxOutputAmount = &cli.Int64Flag{
		Usage: "Max allowed output amount (sats), defaults to the max registrable amount",
		Name:  "max-output-amount", EnvVars: env("MAX_OUTPUT_AMOUNT"),
	}

	AllowedInputTypes = &cli.StringSliceFlag{
		Usage: "Allowed input script types (p2wpkh, p2tr)",
		Name:  "allowed-input-types", EnvVars: env("ALLOWED_INPUT_TYPES"),
		Value: cli.NewStringSlice("p2wpkh", "p2tr"),
	}

	AllowedOutputTypes = &cli.StringSliceFlag{
		Usage: "Allowed output script types (p2wpkh, p2tr)",
		Name:  "allowed-output-types", EnvVars: env("ALLOWED_OUTPUT_TYPES"),
		Value: cli.NewStringSlice("p2wpkh", "p2tr"),
	}

	MaxVsizeAllocationPerAlice = &cli.Int64Flag{
		Usage: "Max vsize an alice can spend on outputs",
		Name:  "max-vsize-allocation-per-alice", EnvVars: env("MAX_VSIZE_ALLOCATION_PER_ALICE"),
		Value: defaultMaxVsizeAllocationPerAlice,
	}

	MaxTransactionVsize = &cli.Int64Flag{
		Usage: "Max vsize of a coinjoin transaction",
		Name:  "max-transaction-vsize", EnvVars: env("MAX_TRANSACTION_VSIZE"),
		Value: defaultMaxTransactionVsize,
	}

	InputRegistrationTimeout = &cli.DurationFlag{
		Usage: "How long the input registration phase lasts",
		Name:  "input-registration-timeout", EnvVars: env("INPUT_REGISTRATION_TIMEOUT"),
		Value: defaultInputRegistrationTimeout,
	}

	ConnectionConfirmationTimeout = &cli.DurationFlag{
		Usage:   "How long the connection confirmation phase lasts",
		Name:    "connection-confirmation-timeout",
		EnvVars: env("CONNECTION_CONFIRMATION_TIMEOUT"),
		Value:   defaultConnectionConfirmationTimeout,
	}

	OutputRegistrationTimeout = &cli.DurationFlag{
		Usage: "How long the output registration phase lasts",
		Name:  "output-registration-timeout", EnvVars: env("OUTPUT_REGISTRATION_TIMEOUT"),
		Value: defaultOutputRegistrationTimeout,
	}

	TransactionSigningTimeout = &cli.DurationFlag{
		Usage: "How long the transaction signing phase lasts",
		Name:  "transaction-signing-timeout", EnvVars: env("TRANSACTION_SIGNING_TIMEOUT"),
		Value: defaultTransactionSigningTimeout,
	}

	BlameInputRegistrationTimeout = &cli.DurationFlag{
		Usage:   "How long the input registration phase of a blame round lasts",
		Name:    "blame-input-registration-timeout",
		EnvVars: env("BLAME_INPUT_REGISTRATION_TIMEOUT"),
		Value:   defaultBlameInputRegistrationTimeout,
	}

	ConnectionTimeout = &cli.DurationFlag{
		Usage: "How long an unconfirmed alice is kept during input registration",
		Name:  "connection-timeout", EnvVars: env("CONNECTION_TIMEOUT"),
		Value: defaultConnectionTimeout,
	}

	DelayTransactionSigning = &cli.BoolFlag{
		Usage: "Keep the signing phase open until its timeout even if all signatures arrived",
		Name:  "delay-transaction-signing", EnvVars: env("DELAY_TRANSACTION_SIGNING"),
	}

	TickPeriod = &cli.DurationFlag{
		Usage: "Period of the arena tick",
		Name:  "tick-period", EnvVars: env("TICK_PERIOD"),
		Value: defaultTickPeriod,
	}

	RoundRetention = &cli.DurationFlag{
		Usage: "How long an ended round stays queryable in memory",
		Name:  "round-retention", EnvVars: env("ROUND_RETENTION"),
		Value: defaultRoundRetention,
	}

	MaxWorkers = &cli.IntFlag{
		Usage: "Max number of rounds processed in parallel by a tick, 0 means one per cpu",
		Name:  "max-workers", EnvVars: env("MAX_WORKERS"),
	}

	BanDurationCheating = &cli.DurationFlag{
		Usage: "Ban duration for cheating inputs",
		Name:  "ban-duration-cheating", EnvVars: env("BAN_DURATION_CHEATING"),
		Value: domain.DefaultBanDurations[domain.ReasonKindCheating],
	}

	BanDurationNoShow = &cli.DurationFlag{
		Usage: "Ban duration for inputs that did not confirm or signal ready to sign",
		Name:  "ban-duration-no-show", EnvVars: env("BAN_DURATION_NO_SHOW"),
		Value: domain.DefaultBanDurations[domain.ReasonKindDidNotConfirm],
	}

	BanDurationDidNotSign = &cli.DurationFlag{
		Usage: "Ban duration for inputs that did not sign",
		Name:  "ban-duration-did-not-sign", EnvVars: env("BAN_DURATION_DID_NOT_SIGN"),
		Value: domain.DefaultBanDurations[domain.ReasonKindDidNotSign],
	}

	BanDurationDoubleSpent = &cli.DurationFlag{
		Usage: "Ban duration for inputs double spent during a round",
		Name:  "ban-duration-double-spent", EnvVars: env("BAN_DURATION_DOUBLE_SPENT"),
		Value: domain.DefaultBanDurations[domain.ReasonKindDoubleSpent],
	}

	BanDurationFailedToVerify = &cli.DurationFlag{
		Usage: "Ban duration for inputs with an invalid ownership proof",
		Name:  "ban-duration-failed-to-verify", EnvVars: env("BAN_DURATION_FAILED_TO_VERIFY"),
		Value: domain.DefaultBanDurations[domain.ReasonKindFailedToVerify],
	}

	BanDurationInherited = &cli.DurationFlag{
		Usage: "Ban duration for outputs of banned transactions",
		Name:  "ban-duration-inherited", EnvVars: env("BAN_DURATION_INHERITED"),
		Value: domain.DefaultBanDurations[domain.ReasonKindInherited],
	}

	OtelCollectorEndpoint = &cli.StringFlag{
		Usage: "OpenTelemetry collector endpoint, telemetry is disabled if unset",
		Name:  "otel-collector-endpoint", EnvVars: env("OTEL_COLLECTOR_ENDPOINT"),
	}

	OtelPushInterval = &cli.Int64Flag{
		Usage: "Interval (in seconds) for pushing metrics to the collector",
		Name:  "otel-push-interval", EnvVars: env("OTEL_PUSH_INTERVAL"),
		Value: int64(defaultOtelPushInterval),
	}
)

var Flags = []cli.Flag{
	Datadir,
	Port,
	AdminPort,
	LogLevel,
	NoTLS,
	EnablePprof,
	DbType,
	DbUrl,
	EventDbType,
	EventDbUrl,
	SchedulerType,
	LiveStoreType,
	RedisUrl,
	RedisTxNumOfRetries,
	Network,
	CoordinatorIdentifier,
	EsploraURL,
	AlertManagerURL,
	StaticFeeRate,
	MinFeeRate,
	MaxFeeRate,
	CredentialPolicy,
	CredentialMaxSlack,
	MinRegistrableAmount,
	MaxRegistrableAmount,
	AmountDividers,
	MinInputCount,
	MaxInputCount,
	MinInputAmount,
	MaxInputAmount,
	MinOutputAmount,
	MaxOutputAmount,
	AllowedInputTypes,
	AllowedOutputTypes,
	MaxVsizeAllocationPerAlice,
	MaxTransactionVsize,
	InputRegistrationTimeout,
	ConnectionConfirmationTimeout,
	OutputRegistrationTimeout,
	TransactionSigningTimeout,
	BlameInputRegistrationTimeout,
	ConnectionTimeout,
	DelayTransactionSigning,
	TickPeriod,
	RoundRetention,
	MaxWorkers,
	BanDurationCheating,
	BanDurationNoShow,
	BanDurationDidNotSign,
	BanDurationDoubleSpent,
	BanDurationFailedToVerify,
	BanDurationInherited,
	OtelCollectorEndpoint,
	OtelPushInterval,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")
	if err := makeDirectoryIfNotExists(dbPath); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %s", err)
	}

	var eventDbUrl string
	if c.String(EventDbType.Name) == "postgres" {
		eventDbUrl = c.String(EventDbUrl.Name)
		if eventDbUrl == "" {
			return nil, fmt.Errorf("event db type set to 'postgres' but event db url is missing")
		}
	}

	var dbUrl string
	if c.String(DbType.Name) == "postgres" {
		dbUrl = c.String(DbUrl.Name)
		if dbUrl == "" {
			return nil, fmt.Errorf("db type set to 'postgres' but db url is missing")
		}
	}

	var redisUrl string
	if c.String(LiveStoreType.Name) == "redis" {
		redisUrl = c.String(RedisUrl.Name)
		if redisUrl == "" {
			return nil, fmt.Errorf("live store type set to 'redis' but redis url is missing")
		}
	}

	adminPort := c.Uint(AdminPort.Name)

	// Input and output ranges default to the registrable amount bounds.
	minRegistrable := c.Int64(MinRegistrableAmount.Name)
	maxRegistrable := c.Int64(MaxRegistrableAmount.Name)
	orDefault := func(flag *cli.Int64Flag, def int64) int64 {
		if v := c.Int64(flag.Name); v > 0 {
			return v
		}
		return def
	}

	return &Config{
		Datadir:             c.String(Datadir.Name),
		Port:                uint32(c.Uint(Port.Name)),
		AdminPort:           uint32(adminPort),
		NoTLS:               c.Bool(NoTLS.Name),
		LogLevel:            c.Int(LogLevel.Name),
		EnablePprof:         c.Bool(EnablePprof.Name),
		DbType:              c.String(DbType.Name),
		EventDbType:         c.String(EventDbType.Name),
		DbDir:               dbPath,
		DbUrl:               dbUrl,
		EventDbUrl:          eventDbUrl,
		SchedulerType:       c.String(SchedulerType.Name),
		LiveStoreType:       c.String(LiveStoreType.Name),
		RedisUrl:            redisUrl,
		RedisTxNumOfRetries: c.Int(RedisTxNumOfRetries.Name),

		Network:               c.String(Network.Name),
		CoordinatorIdentifier: c.String(CoordinatorIdentifier.Name),
		EsploraURL:            c.String(EsploraURL.Name),
		AlertManagerURL:       c.String(AlertManagerURL.Name),
		StaticFeeRate:         c.Int64(StaticFeeRate.Name),
		MinFeeRate:            c.Int64(MinFeeRate.Name),
		MaxFeeRate:            c.Int64(MaxFeeRate.Name),
		CredentialPolicy:      c.String(CredentialPolicy.Name),
		CredentialMaxSlack:    c.Int64(CredentialMaxSlack.Name),

		MinRegistrableAmount:       minRegistrable,
		MaxRegistrableAmount:       maxRegistrable,
		AmountDividers:             c.Int64Slice(AmountDividers.Name),
		MinInputCount:              c.Int(MinInputCount.Name),
		MaxInputCount:              c.Int(MaxInputCount.Name),
		MinInputAmount:             orDefault(MinInputAmount, minRegistrable),
		MaxInputAmount:             orDefault(MaxInputAmount, maxRegistrable),
		MinOutputAmount:            orDefault(MinOutputAmount, minRegistrable),
		MaxOutputAmount:            orDefault(MaxOutputAmount, maxRegistrable),
		AllowedInputTypes:          c.StringSlice(AllowedInputTypes.Name),
		AllowedOutputTypes:         c.StringSlice(AllowedOutputTypes.Name),
		MaxVsizeAllocationPerAlice: c.Int64(MaxVsizeAllocationPerAlice.Name),
		MaxTransactionVsize:        c.Int64(MaxTransactionVsize.Name),

		InputRegistrationTimeout:      c.Duration(InputRegistrationTimeout.Name),
		ConnectionConfirmationTimeout: c.Duration(ConnectionConfirmationTimeout.Name),
		OutputRegistrationTimeout:     c.Duration(OutputRegistrationTimeout.Name),
		TransactionSigningTimeout:     c.Duration(TransactionSigningTimeout.Name),
		BlameInputRegistrationTimeout: c.Duration(BlameInputRegistrationTimeout.Name),
		ConnectionTimeout:             c.Duration(ConnectionTimeout.Name),
		DelayTransactionSigning:       c.Bool(DelayTransactionSigning.Name),
		TickPeriod:                    c.Duration(TickPeriod.Name),
		RoundRetention:                c.Duration(RoundRetention.Name),
		MaxWorkers:                    c.Int(MaxWorkers.Name),

		BanDurations: domain.BanDurations{
			domain.ReasonKindCheating:                c.Duration(BanDurationCheating.Name),
			domain.ReasonKindDidNotConfirm:           c.Duration(BanDurationNoShow.Name),
			domain.ReasonKindDidNotSignalReadyToSign: c.Duration(BanDurationNoShow.Name),
			domain.ReasonKindDidNotSign:              c.Duration(BanDurationDidNotSign.Name),
			domain.ReasonKindDoubleSpent:             c.Duration(BanDurationDoubleSpent.Name),
			domain.ReasonKindFailedToVerify:          c.Duration(BanDurationFailedToVerify.Name),
			domain.ReasonKindInherited:               c.Duration(BanDurationInherited.Name),
		},

		OtelCollectorEndpoint: c.String(OtelCollectorEndpoint.Name),
		OtelPushInterval:      c.Int64(OtelPushInterval.Name),
	}, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func (c *Config) Validate() error {
	if !supportedEventDbs.supports(c.EventDbType) {
		return fmt.Errorf(
			"event db type not supported, please select one of: %s",
			supportedEventDbs,
		)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf(
			"scheduler type not supported, please select one of: %s",
			supportedSchedulers,
		)
	}
	if !supportedLiveStores.supports(c.LiveStoreType) {
		return fmt.Errorf(
			"live store type not supported, please select one of: %s",
			supportedLiveStores,
		)
	}
	if !supportedCredentialPolicies.supports(c.CredentialPolicy) {
		return fmt.Errorf(
			"credential policy not supported, please select one of: %s",
			supportedCredentialPolicies,
		)
	}
	if _, ok := supportedNetworks[c.Network]; !ok {
		return fmt.Errorf("unknown network %s", c.Network)
	}
	for _, t := range slices.Concat(c.AllowedInputTypes, c.AllowedOutputTypes) {
		if !supportedScriptTypes.supports(t) {
			return fmt.Errorf(
				"script type %s not supported, please select one of: %s",
				t, supportedScriptTypes,
			)
		}
	}
	if c.EsploraURL == "" {
		return fmt.Errorf("missing esplora url")
	}
	if c.OtelPushInterval <= 0 {
		c.OtelPushInterval = int64(defaultOtelPushInterval)
	}
	if c.clock == nil {
		c.clock = clock.NewDefaultClock()
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.alertsService(); err != nil {
		return err
	}
	if err := c.wardenService(); err != nil {
		return err
	}
	if err := c.archiverService(); err != nil {
		return err
	}
	if err := c.issuerFactory(); err != nil {
		return err
	}
	if err := c.chainService(); err != nil {
		return err
	}
	if err := c.feeRateService(); err != nil {
		return err
	}
	if err := c.liveStoreService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.adminService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) AdminService() application.AdminService {
	return c.adminSvc
}

func (c *Config) repoManager() error {
	var eventStoreConfig []interface{}
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.EventDbType {
	case "inmemory":
	case "postgres":
		eventStoreConfig = []interface{}{c.EventDbUrl, true}
	default:
		return fmt.Errorf("unknown event db type")
	}

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	case "postgres":
		dataStoreConfig = []interface{}{c.DbUrl, true}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		EventStoreType:   c.EventDbType,
		DataStoreType:    c.DbType,
		EventStoreConfig: eventStoreConfig,
		DataStoreConfig:  dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) wardenService() error {
	if c.repo == nil {
		return fmt.Errorf("repo manager not set")
	}

	svc, err := warden.NewService(
		c.Datadir, c.BanDurations, c.repo.Offenders(),
		warden.WithClock(c.clock), warden.WithAlerts(c.alerts),
	)
	if err != nil {
		return err
	}

	c.warden = svc
	return nil
}

func (c *Config) archiverService() error {
	svc, err := archiver.NewService(c.Datadir)
	if err != nil {
		return err
	}

	c.archiver = svc
	return nil
}

func (c *Config) issuerFactory() error {
	policy, err := credentials.NewConservationPolicy(c.CredentialPolicy, c.CredentialMaxSlack)
	if err != nil {
		return err
	}

	c.issuers = credentials.NewIssuerFactory(policy)
	return nil
}

func (c *Config) chainService() error {
	svc, err := esplora.NewService(c.EsploraURL)
	if err != nil {
		return err
	}

	c.chain = svc
	return nil
}

func (c *Config) feeRateService() error {
	var source ports.FeeRateProvider = c.chain
	if c.StaticFeeRate > 0 {
		static, err := feemanager.NewStaticFeeRateProvider(c.StaticFeeRate)
		if err != nil {
			return err
		}
		source = static
	}

	if c.MinFeeRate <= 0 && c.MaxFeeRate <= 0 {
		c.feeRates = source
		return nil
	}

	svc, err := feemanager.NewBoundedFeeRateProvider(source, c.MinFeeRate, c.MaxFeeRate)
	if err != nil {
		return err
	}

	c.feeRates = svc
	return nil
}

func (c *Config) liveStoreService() error {
	var liveStoreSvc ports.LiveStore
	var err error
	switch c.LiveStoreType {
	case "inmemory":
		liveStoreSvc = inmemorylivestore.NewLiveStore()
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		liveStoreSvc = redislivestore.NewLiveStore(rdb, c.RedisTxNumOfRetries)
	default:
		err = fmt.Errorf("unknown liveStore type")
	}

	if err != nil {
		return err
	}

	c.liveStore = liveStoreSvc
	return nil
}

func (c *Config) schedulerService() error {
	var svc ports.SchedulerService
	var err error
	switch c.SchedulerType {
	case "gocron":
		svc = timescheduler.NewScheduler()
	case "ticker":
		svc = tickerscheduler.NewScheduler(
			tickerscheduler.WithTickerInterval(c.TickPeriod),
			tickerscheduler.WithClock(c.clock),
		)
	default:
		err = fmt.Errorf("unknown scheduler type")
	}
	if err != nil {
		return err
	}

	c.scheduler = svc
	return nil
}

func (c *Config) appService() error {
	inputTypes, err := parseScriptTypes(c.AllowedInputTypes)
	if err != nil {
		return err
	}
	outputTypes, err := parseScriptTypes(c.AllowedOutputTypes)
	if err != nil {
		return err
	}

	svc, err := application.NewService(
		application.Config{
			Network:               c.Network,
			CoordinatorIdentifier: c.CoordinatorIdentifier,
			MinRegistrableAmount:  c.MinRegistrableAmount,
			MaxRegistrableAmount:  c.MaxRegistrableAmount,
			AmountDividers:        c.AmountDividers,
			MinInputCount:         c.MinInputCount,
			MaxInputCount:         c.MaxInputCount,
			InputAmountRange: domain.AmountRange{
				Min: c.MinInputAmount, Max: c.MaxInputAmount,
			},
			OutputAmountRange: domain.AmountRange{
				Min: c.MinOutputAmount, Max: c.MaxOutputAmount,
			},
			AllowedInputTypes:             inputTypes,
			AllowedOutputTypes:            outputTypes,
			MaxVsizeAllocationPerAlice:    c.MaxVsizeAllocationPerAlice,
			MaxTransactionVsize:           c.MaxTransactionVsize,
			InputRegistrationTimeout:      c.InputRegistrationTimeout,
			ConnectionConfirmationTimeout: c.ConnectionConfirmationTimeout,
			OutputRegistrationTimeout:     c.OutputRegistrationTimeout,
			TransactionSigningTimeout:     c.TransactionSigningTimeout,
			BlameInputRegistrationTimeout: c.BlameInputRegistrationTimeout,
			ConnectionTimeout:             c.ConnectionTimeout,
			DelayTransactionSigning:       c.DelayTransactionSigning,
			TickPeriod:                    c.TickPeriod,
			RoundRetention:                c.RoundRetention,
			MaxWorkers:                    c.MaxWorkers,
		},
		c.repo, c.warden, c.issuers, ownership.NewVerifier(), txbuilder.NewTxBuilder(),
		c.chain, c.chain, c.chain, c.feeRates, c.archiver,
		c.scheduler, c.liveStore, c.alerts, c.clock,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

func (c *Config) adminService() error {
	c.adminSvc = application.NewAdminService(c.repo, c.warden, c.archiver, c.clock)
	return nil
}

func (c *Config) alertsService() error {
	if c.AlertManagerURL == "" {
		return nil
	}

	c.alerts = alertsmanager.NewService(c.AlertManagerURL, c.EsploraURL)
	return nil
}

func parseScriptTypes(types []string) ([]domain.ScriptType, error) {
	list := make([]domain.ScriptType, 0, len(types))
	for _, t := range types {
		if !supportedScriptTypes.supports(t) {
			return nil, fmt.Errorf("unknown script type %s", t)
		}
		list = append(list, domain.ScriptType(t))
	}
	return list, nil
}

// maskUrl hides the credentials of a connection url.
func maskUrl(rawUrl string) string {
	scheme, rest, ok := strings.Cut(rawUrl, "://")
	if !ok {
		return rawUrl
	}
	userInfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return rawUrl
	}
	if user, _, hasPwd := strings.Cut(userInfo, ":"); hasPwd {
		return fmt.Sprintf("%s://%s:••••••@%s", scheme, user, host)
	}
	return rawUrl
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
