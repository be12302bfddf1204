package executor

import (
	"time"

	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	logger           *zap.Logger
	registerer       prometheus.Registerer
	precompile       []Program // Programs to load at startup
	memoryLimitPages uint32    // Engine-wide cap on any memory, 0 = wasm32 maximum
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger used by the Executor and its sessions.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(c *executorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics registers the executor's collectors on reg.
func WithMetrics(reg prometheus.Registerer) ExecutorOption {
	return func(c *executorConfig) {
		c.registerer = reg
	}
}

// WithPrecompile loads the given programs at Executor creation time.
// This moves the compilation cost to startup rather than first use.
func WithPrecompile(programs ...Program) ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = programs
	}
}

// WithMemoryLimit caps every memory the engine will allocate, in 64KB pages.
// Resolvers enforce their own, usually tighter, limit on top of it.
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16   // 1 MB
	MemoryLimit4MB   uint32 = 64   // 4 MB
	MemoryLimit16MB  uint32 = 256  // 16 MB
	MemoryLimit64MB  uint32 = 1024 // 64 MB
	MemoryLimit256MB uint32 = 4096 // 256 MB
)

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	maxMemoryPages uint32
	memoryField    string
}

// DefaultMaxMemoryPages is the largest memory a resolver grants by default.
const DefaultMaxMemoryPages = MemoryLimit4MB

func defaultResolverConfig() resolverConfig {
	return resolverConfig{
		maxMemoryPages: DefaultMaxMemoryPages,
		memoryField:    "memory",
	}
}

// WithMaxMemoryPages sets the largest initial and maximum size, in pages,
// a guest may declare for its memory.
func WithMaxMemoryPages(pages uint32) ResolverOption {
	return func(c *resolverConfig) {
		c.maxMemoryPages = pages
	}
}

// WithMemoryField sets the only field name under which a memory is provided.
func WithMemoryField(name string) ResolverOption {
	return func(c *resolverConfig) {
		c.memoryField = name
	}
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	timeout   time.Duration
	kvEnabled bool
	kvConfig  hostfunc.KVConfig
	arenaBase uint32
	arenaSize uint32
	logger    *zap.Logger
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		timeout: 30 * time.Second,
	}
}

// WithSessionTimeout bounds each invocation. Zero disables the watchdog.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.timeout = d
	}
}

// WithSessionKV gives the guest a session-scoped store as db_put and db_get.
func WithSessionKV(cfg hostfunc.KVConfig) SessionOption {
	return func(c *sessionConfig) {
		c.kvEnabled = true
		c.kvConfig = cfg
	}
}

// WithSessionArena reserves [base, base+size) of the guest memory for
// buffers the host stages through Session.Arena.
func WithSessionArena(base, size uint32) SessionOption {
	return func(c *sessionConfig) {
		c.arenaBase = base
		c.arenaSize = size
	}
}

// WithSessionLogger overrides the executor's logger for one session.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(c *sessionConfig) {
		c.logger = l
	}
}
