// Package logging provides categorized structured logging for anima.
// Every subsystem logs through a named child of one process logger so
// output can be filtered per category at runtime. Categories can be
// silenced individually; a silenced category gets a no-op logger.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and wiring
	CategoryLoop         Category = "loop"         // Cycle orchestrator
	CategorySubstrate    Category = "substrate"    // Markdown substrate I/O
	CategorySession      Category = "session"      // LLM session launching
	CategoryMind         Category = "mind"         // Role shims (ego, subconscious, superego, id)
	CategoryConversation Category = "conversation" // Conversation manager, compaction, archive
	CategoryRateLimit    Category = "ratelimit"    // Rate-limit parsing and hibernation state
	CategoryServer       Category = "server"       // HTTP/WebSocket edge
	CategoryReports      Category = "reports"      // Governance report store
	CategoryUpkeep       Category = "upkeep"       // Backup, email, health schedulers
	CategoryUsage        Category = "usage"        // Token usage ledger
)

// Options controls logger construction.
type Options struct {
	// Level is the minimum level emitted: debug, info, warn, error.
	Level string
	// Development switches to the console encoder with colored levels.
	Development bool
	// Disabled maps category names to true to silence them.
	Disabled map[string]bool
}

var (
	mu       sync.RWMutex
	root     *zap.Logger
	children = make(map[Category]*zap.SugaredLogger)
	disabled map[string]bool
	nop      = zap.NewNop().Sugar()
)

// Init builds the process logger. Call once at startup before Get.
// Calling Init again replaces the root and drops cached children.
func Init(opts Options) error {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	disabled = opts.Disabled
	children = make(map[Category]*zap.SugaredLogger)
	return nil
}

// InitNop installs a no-op root. Used by tests that want silence.
func InitNop() {
	mu.Lock()
	defer mu.Unlock()
	root = zap.NewNop()
	disabled = nil
	children = make(map[Category]*zap.SugaredLogger)
}

// Get returns the logger for a category, creating it on first use.
// Safe to call before Init; it returns a no-op logger until then.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := children[category]; ok {
		mu.RUnlock()
		return l
	}
	r := root
	dis := disabled
	mu.RUnlock()

	if r == nil || dis[string(category)] {
		return nop
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := children[category]; ok {
		return l
	}
	l := root.Named(string(category)).Sugar()
	children[category] = l
	return l
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	r := root
	mu.RUnlock()
	if r != nil {
		_ = r.Sync()
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Convenience category accessors. Subsystems call these instead of
// carrying a logger through every constructor.

func Boot() *zap.SugaredLogger         { return Get(CategoryBoot) }
func Loop() *zap.SugaredLogger         { return Get(CategoryLoop) }
func Substrate() *zap.SugaredLogger    { return Get(CategorySubstrate) }
func Session() *zap.SugaredLogger      { return Get(CategorySession) }
func Mind() *zap.SugaredLogger         { return Get(CategoryMind) }
func Conversation() *zap.SugaredLogger { return Get(CategoryConversation) }
func RateLimit() *zap.SugaredLogger    { return Get(CategoryRateLimit) }
func Server() *zap.SugaredLogger       { return Get(CategoryServer) }
func Reports() *zap.SugaredLogger      { return Get(CategoryReports) }
func Upkeep() *zap.SugaredLogger       { return Get(CategoryUpkeep) }
func Usage() *zap.SugaredLogger        { return Get(CategoryUsage) }
