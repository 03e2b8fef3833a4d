// nolint:lll
package rgbcfg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog/v2"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/verrpc"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/rgbln/rgbsettle"
	"github.com/rgbln/rgbsettle/bitcoind"
	"github.com/rgbln/rgbsettle/consignment"
	"github.com/rgbln/rgbsettle/rgb"
	"github.com/rgbln/rgbsettle/rgbrpc"
	"github.com/rgbln/rgbsettle/sweeper"
)

const (
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "rgbsettle.log"
	defaultConfigFileName = "rgbsettle.conf"

	defaultNetwork = "testnet"

	// defaultFeeRate is the default fee rate of funding and sweep
	// transactions in sat/kvB.
	defaultFeeRate = 1500

	// defaultLndRPCTimeout is the default timeout we'll use for RPC
	// requests to lnd.
	defaultLndRPCTimeout = 1 * time.Minute

	defaultLndMacaroon = "admin.macaroon"
)

var (
	// DefaultRgbDir is the default directory where rgbsettle tries to find
	// its configuration file and store its data.
	DefaultRgbDir = btcutil.AppDataDir("rgbsettle", false)

	// DefaultConfigFile is the default full path of the configuration
	// file.
	DefaultConfigFile = filepath.Join(DefaultRgbDir, defaultConfigFileName)

	defaultDataDir = filepath.Join(DefaultRgbDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultRgbDir, defaultLogDirname)

	// defaultLndDir is the default location where we look for lnd's tls and
	// macaroon files.
	defaultLndDir = btcutil.AppDataDir("lnd", false)

	defaultLndMacaroonPath = filepath.Join(
		defaultLndDir, "data", "chain", "bitcoin", defaultNetwork,
		defaultLndMacaroon,
	)

	// minimalCompatibleVersion is the minimum version and build tags
	// required in lnd. The wallet kit is used to fund and sign PSBTs.
	minimalCompatibleVersion = &verrpc.Version{
		AppMajor:  0,
		AppMinor:  18,
		AppPatch:  0,
		BuildTags: []string{"signrpc", "walletrpc", "chainrpc"},
	}
)

// ChainConfig houses the configuration options that govern which chain/network
// we operate on.
type ChainConfig struct {
	Network string `long:"network" description:"network to run on" choice:"mainnet" choice:"regtest" choice:"testnet" choice:"signet"`
}

// LndConfig is the main config we'll use to connect to the lnd node that
// backs our on-chain wallet.
type LndConfig struct {
	Host string `long:"host" description:"lnd instance rpc address"`

	MacaroonPath string `long:"macaroonpath" description:"The full path to the macaroon to use, it must allow use of the wallet kit"`

	TLSPath string `long:"tlspath" description:"Path to lnd tls certificate"`

	RPCTimeout time.Duration `long:"rpctimeout" description:"The timeout to use for RPC requests to lnd. Valid time units are {s, m, h}."`
}

// SweepConfig holds the options of reclaim transactions.
type SweepConfig struct {
	ConfTarget uint32 `long:"conftarget" description:"The confirmation target used to estimate the fee of to_local sweeps"`
}

// Config is the main config for the settlement daemon.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	RgbDir     string `long:"rgbdir" description:"The base directory that contains the data, logs and configuration file"`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`

	DataDir string `long:"datadir" description:"The directory to store the colored UTXO ledger and consignments within"`
	LogDir  string `long:"logdir" description:"Directory to log output."`

	Logging *build.LogConfig `group:"logging" namespace:"logging"`

	FeeRate uint64 `long:"feerate" description:"The fee rate of funding and sweep transactions in sat/kvB"`

	Blinding uint64 `long:"blinding" description:"The blinding factor of the seals we create"`

	ChainConf *ChainConfig `group:"chain" namespace:"chain"`

	Lnd *LndConfig `group:"lnd" namespace:"lnd"`

	Bitcoind *bitcoind.Config `group:"bitcoind" namespace:"bitcoind"`

	Proxy *consignment.ProxyCourierCfg `group:"proxy" namespace:"proxy"`

	RgbNode *rgbrpc.Config `group:"rgbnode" namespace:"rgbnode"`

	Sweep *SweepConfig `group:"sweep" namespace:"sweep"`

	// LogWriter is the root logger that all of the daemon's subloggers are
	// hooked up to.
	LogWriter *build.RotatingLogWriter

	// LogMgr is the sublogger manager that is used to create subloggers for
	// the daemon.
	LogMgr *build.SubLoggerManager

	// networkDir is the path to the directory of the currently active
	// network. It holds the ledger and the consignments.
	networkDir string

	// ActiveNetParams contains parameters of the target chain.
	ActiveNetParams chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	logWriter := build.NewRotatingLogWriter()
	defaultLogConfig := build.DefaultLogConfig()

	return Config{
		RgbDir:     DefaultRgbDir,
		ConfigFile: DefaultConfigFile,
		DataDir:    defaultDataDir,
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
		Logging:    defaultLogConfig,
		FeeRate:    defaultFeeRate,
		Blinding:   rgb.DefaultBlinding,
		ChainConf: &ChainConfig{
			Network: defaultNetwork,
		},
		Lnd: &LndConfig{
			Host:         "localhost:10009",
			MacaroonPath: defaultLndMacaroonPath,
			RPCTimeout:   defaultLndRPCTimeout,
		},
		Bitcoind: &bitcoind.Config{
			Host: "localhost:18332",
		},
		Proxy: &consignment.ProxyCourierCfg{
			Timeout: consignment.DefaultProxyTimeout,
		},
		RgbNode: &rgbrpc.Config{
			URL:     "http://localhost:3001",
			Timeout: rgbrpc.DefaultTimeout,
		},
		Sweep: &SweepConfig{
			ConfTarget: sweeper.DefaultConfTarget,
		},
		LogWriter: logWriter,
		LogMgr: build.NewSubLoggerManager(build.NewDefaultLogHandlers(
			defaultLogConfig, logWriter,
		)...),
	}
}

// NetworkDir returns the directory of the active network.
func (c *Config) NetworkDir() string {
	return c.networkDir
}

// FeeRatePerKw returns the configured fee rate.
func (c *Config) FeeRatePerKw() chainfee.SatPerKWeight {
	return chainfee.SatPerKVByte(c.FeeRate).FeePerKWeight()
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, btclog.Logger,
	error) {

	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, nil, err
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", rgbsettle.Version())
		os.Exit(0)
	}

	// A custom base directory without an explicit config file means the
	// config file lives in that directory, but it doesn't have to exist.
	configFileDir := lncfg.CleanAndExpandPath(preCfg.RgbDir)
	configFilePath := lncfg.CleanAndExpandPath(preCfg.ConfigFile)
	switch {
	case configFileDir != DefaultRgbDir &&
		configFilePath == DefaultConfigFile:

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFileName,
		)

	case configFilePath != DefaultConfigFile:
		if !lnrpc.FileExists(configFilePath) {
			return nil, nil, fmt.Errorf("specified config file "+
				"does not exist in %s", configFilePath)
		}
	}

	var configFileError error
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
		// A missing file is fine, a malformed one isn't.
		if _, ok := err.(*flags.IniError); ok {
			return nil, nil, err
		}

		configFileError = err
	}

	// Command line options take precedence over the file.
	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.Parse(); err != nil {
		return nil, nil, err
	}

	cfgLogger := cfg.LogMgr.GenSubLogger("CONF", nil)

	cleanCfg, err := ValidateConfig(cfg, cfgLogger)
	if err != nil {
		if _, ok := err.(*usageError); ok {
			cfgLogger.Warnf("Incorrect usage: %v", usageMessage)
		}

		cfgLogger.Warnf("Error validating config: %v", err)
		return nil, nil, err
	}

	cleanCfg.LogMgr = build.NewSubLoggerManager(
		build.NewDefaultLogHandlers(
			cleanCfg.Logging, cleanCfg.LogWriter,
		)...,
	)

	rgbsettle.SetupLoggers(cleanCfg.LogMgr, interceptor)

	err = cleanCfg.LogWriter.InitLogRotator(
		cleanCfg.Logging.File, filepath.Join(
			cleanCfg.LogDir, defaultLogFilename,
		),
	)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		return nil, nil, err
	}

	err = build.ParseAndSetDebugLevels(cleanCfg.DebugLevel, cleanCfg.LogMgr)
	if err != nil {
		str := "error parsing debug level: %v"
		cfgLogger.Warnf(str, err)
		return nil, nil, fmt.Errorf(str, err)
	}

	if configFileError != nil {
		cfgLogger.Warnf("%v", configFileError)
	}

	return cleanCfg, cfgLogger, nil
}

// usageError is an error type that signals a problem with the supplied flags.
type usageError struct {
	err error
}

// Error returns the error string.
//
// NOTE: This is part of the error interface.
func (u *usageError) Error() string {
	return u.err.Error()
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, cfgLogger btclog.Logger) (*Config, error) {
	// If the base directory is not the default, everything else lives
	// within it.
	rgbDir := lncfg.CleanAndExpandPath(cfg.RgbDir)
	if rgbDir != DefaultRgbDir {
		cfg.DataDir = filepath.Join(rgbDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(rgbDir, defaultLogDirname)
	}

	funcName := "ValidateConfig"
	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf(funcName+": "+format, args...)
	}

	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)

	switch cfg.ChainConf.Network {
	case "mainnet":
		cfg.ActiveNetParams = chaincfg.MainNetParams
	case "testnet":
		cfg.ActiveNetParams = chaincfg.TestNet3Params
	case "regtest":
		cfg.ActiveNetParams = chaincfg.RegressionNetParams
	case "signet":
		cfg.ActiveNetParams = chaincfg.SigNetParams
	default:
		return nil, &usageError{mkErr("invalid network: %v",
			cfg.ChainConf.Network)}
	}

	cfg.networkDir = filepath.Join(
		cfg.DataDir, lncfg.NormalizeNetwork(cfg.ActiveNetParams.Name),
	)

	// Adjust the default lnd macaroon path if only the network is
	// specified.
	if cfg.ChainConf.Network != defaultNetwork &&
		cfg.Lnd.MacaroonPath == defaultLndMacaroonPath {

		cfg.Lnd.MacaroonPath = filepath.Join(
			defaultLndDir, "data", "chain", "bitcoin",
			cfg.ChainConf.Network, defaultLndMacaroon,
		)
	}
	if cfg.Lnd.MacaroonPath == "" {
		return nil, &usageError{mkErr("must specify --lnd.macaroonpath")}
	}
	cfg.Lnd.MacaroonPath = lncfg.CleanAndExpandPath(cfg.Lnd.MacaroonPath)
	cfg.Lnd.TLSPath = lncfg.CleanAndExpandPath(cfg.Lnd.TLSPath)

	switch {
	case cfg.Bitcoind.Host == "":
		return nil, &usageError{mkErr("must specify --bitcoind.host")}

	case cfg.Proxy.URL == "":
		return nil, &usageError{mkErr("must specify --proxy.url")}

	case cfg.RgbNode.URL == "":
		return nil, &usageError{mkErr("must specify --rgbnode.url")}
	}

	if cfg.FeeRatePerKw() < chainfee.FeePerKwFloor {
		return nil, &usageError{mkErr("fee rate %d sat/kvB is below "+
			"the relay floor of %v", cfg.FeeRate,
			chainfee.FeePerKwFloor.FeePerKVByte())}
	}

	if cfg.Sweep.ConfTarget < 2 {
		return nil, &usageError{mkErr("sweep conf target must be at " +
			"least 2")}
	}

	for _, dir := range []string{rgbDir, cfg.DataDir, cfg.networkDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, mkErr("failed to create directory '%s': "+
				"%v", dir, err)
		}
	}

	// Namespace the log directory per network in the same fashion as the
	// data directory.
	cfg.LogDir = filepath.Join(
		cfg.LogDir, lncfg.NormalizeNetwork(cfg.ActiveNetParams.Name),
	)

	if cfg.LogWriter == nil {
		return nil, mkErr("log writer missing in config")
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.LogMgr.SupportedSubsystems())
		os.Exit(0)
	}

	if cfg.Blinding != rgb.DefaultBlinding {
		cfgLogger.Warnf("Using non-default blinding factor %d, "+
			"counterparties must use the same", cfg.Blinding)
	}

	return &cfg, nil
}

// getLnd returns an instance of the lnd services proxy.
func getLnd(network string, cfg *LndConfig,
	interceptor signal.Interceptor) (*lndclient.GrpcLndServices, error) {

	// NewLndServices blocks until lnd is synced, but a shutdown request
	// must still be able to abort the wait.
	ctxc, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			cancel()

		case <-ctxc.Done():
		}
	}()

	return lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:            cfg.Host,
		Network:               lndclient.Network(network),
		CustomMacaroonPath:    cfg.MacaroonPath,
		TLSPath:               cfg.TLSPath,
		CheckVersion:          minimalCompatibleVersion,
		BlockUntilChainSynced: true,
		BlockUntilUnlocked:    true,
		CallerCtx:             ctxc,
		RPCTimeout:            cfg.RPCTimeout,
	})
}
