package rgbsettle

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/rgbln/rgbsettle/bitcoind"
	"github.com/rgbln/rgbsettle/chanfunding"
	"github.com/rgbln/rgbsettle/consignment"
	"github.com/rgbln/rgbsettle/lndservices"
	"github.com/rgbln/rgbsettle/rgbrpc"
	"github.com/rgbln/rgbsettle/rgbutxo"
	"github.com/rgbln/rgbsettle/swap"
	"github.com/rgbln/rgbsettle/sweeper"
)

// Subsystem defines the logging code for this subsystem.
const Subsystem = "RGBS"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// genSubLogger creates a logger for a subsystem. We provide an instance of a
// signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.SubLoggerManager,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager,
	interceptor signal.Interceptor) {

	AddSubLogger(root, Subsystem, interceptor, UseLogger, signal.UseLogger)

	AddSubLogger(
		root, chanfunding.Subsystem, interceptor, chanfunding.UseLogger,
	)
	AddSubLogger(
		root, consignment.Subsystem, interceptor, consignment.UseLogger,
	)
	AddSubLogger(root, sweeper.Subsystem, interceptor, sweeper.UseLogger)
	AddSubLogger(root, swap.Subsystem, interceptor, swap.UseLogger)
	AddSubLogger(root, rgbutxo.Subsystem, interceptor, rgbutxo.UseLogger)
	AddSubLogger(root, rgbrpc.Subsystem, interceptor, rgbrpc.UseLogger)
	AddSubLogger(
		root, lndservices.Subsystem, interceptor, lndservices.UseLogger,
	)
	AddSubLogger(root, bitcoind.Subsystem, interceptor, bitcoind.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, genSubLogger(root, interceptor))
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a sub
// system.
func SetSubLogger(root *build.SubLoggerManager, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
