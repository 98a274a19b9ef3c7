package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Module tags carried on every log line so that noisy subsystems can be
// silenced independently.
const (
	VDFMonitoring    = "vdf_mod"    // VDF engine
	RBCMonitoring    = "rbc_mod"    // Reliable broadcast
	BBAMonitoring    = "bba_mod"    // Binary agreement
	ACSMonitoring    = "acs_mod"    // Common subset
	EpochMonitoring  = "epoch_mod"  // Epoch orchestrator
	DayMonitoring    = "day_mod"    // Day-advancement protocol
	DetectMonitoring = "detect_mod" // Detection & blacklist
	StoreMonitoring  = "store_mod"  // Storage
	NodeMonitoring   = "n_mod"      // General node ops
	APIMonitoring    = "api_mod"    // Boundary adapters
	NetMonitoring    = "net_mod"    // Peer gossip
)

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
	DisableModule(RBCMonitoring)
	DisableModule(BBAMonitoring)
}

func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "MAX", "MAXVERBOSITY":
		return levelMaxVerbosity, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

func InitLogger(logLevel string) {
	logLvl, err := ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(os.Stderr, logLvl, true)))
}

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	root.Store(l)
}

// Root returns the root logger
func Root() Logger {
	return root.Load().(Logger)
}

func initModule(moduleList []string, enabled []string) map[string]bool {
	moduleMap := make(map[string]bool)
	for _, module := range moduleList {
		moduleMap[module] = false
	}
	for _, module := range enabled {
		moduleMap[module] = true
	}
	return moduleMap
}

var defaultKnownModules = []string{
	VDFMonitoring, RBCMonitoring, BBAMonitoring, ACSMonitoring,
	EpochMonitoring, DayMonitoring, DetectMonitoring, StoreMonitoring,
	NodeMonitoring, APIMonitoring, NetMonitoring,
}
var defaultModuleEnabled = []string{}

// moduleEnabled keeps track of whether a module's trace/debug logging is enabled.
var moduleEnabled = initModule(defaultKnownModules, defaultModuleEnabled)

// EnableModule enables logging for the specified module.
func EnableModule(module string) {
	moduleEnabled[module] = true
}

// DisableModule disables logging for the specified module.
func DisableModule(module string) {
	moduleEnabled[module] = false
}

func isModuleEnabled(module string) bool {
	enabled, ok := moduleEnabled[module]
	return ok && enabled
}

// Trace logs a message at the trace level for a specific module.
func Trace(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	newCtx := append([]interface{}{"module", module}, ctx...)
	Root().Write(LevelTrace, module, msg, newCtx...)
}

// Debug logs a message at the debug level for a specific module.
func Debug(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(slog.LevelDebug, module, msg, ctx...)
}

// The rest of the logging functions (Info, Warn, Error, Crit) dont filter on module
func Info(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelError, module, msg, ctx...)
}

func Crit(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelCrit, module, msg, ctx...)
	os.Exit(1)
}

func New(ctx ...interface{}) Logger {
	return Root().With(ctx...)
}
