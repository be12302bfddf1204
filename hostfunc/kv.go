package hostfunc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrValueTooLarge = errors.New("value too large")
	ErrKVFull        = errors.New("kv store full")
)

const (
	DefaultMaxKeySize   = 64
	DefaultMaxValueSize = 1 << 20
	DefaultMaxEntries   = 10000
)

// KVConfig bounds what a guest may store. Zero fields take the defaults.
type KVConfig struct {
	// MaxKeySize caps how many bytes of a NUL-terminated key are read.
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultMaxKeySize,
		MaxValueSize: DefaultMaxValueSize,
		MaxEntries:   DefaultMaxEntries,
	}
}

func (c KVConfig) withDefaults() KVConfig {
	d := DefaultKVConfig()
	if c.MaxKeySize <= 0 {
		c.MaxKeySize = d.MaxKeySize
	}
	if c.MaxValueSize <= 0 {
		c.MaxValueSize = d.MaxValueSize
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	return c
}

// KV is a session-scoped store the guest reaches through db_put and db_get.
// Keys and values are exchanged through linear memory by pointer.
type KV struct {
	cfg  KVConfig
	data map[string][]byte
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig) *KV {
	return &KV{cfg: cfg.withDefaults(), data: make(map[string][]byte)}
}

var (
	dbPutSignature = Sig(None, I32, I32, I32)
	dbGetSignature = Sig(I32, I32, I32, I32)
)

// Register exposes the store as db_put and db_get.
func (kv *KV) Register(reg *Registry) {
	reg.Register("db_put", dbPutSignature, kv.Put)
	reg.Register("db_get", dbGetSignature, kv.Get)
}

// Put handles db_put(key_ptr, val_ptr, len).
func (kv *KV) Put(c *Call) (Value, error) {
	keyPtr, err := c.U32(0)
	if err != nil {
		return Void, err
	}
	valPtr, err := c.U32(1)
	if err != nil {
		return Void, err
	}
	n, err := c.U32(2)
	if err != nil {
		return Void, err
	}

	key, err := c.Memory.ReadCString(keyPtr, uint32(kv.cfg.MaxKeySize))
	if err != nil {
		return Void, fmt.Errorf("read key: %w", err)
	}
	if uint64(n) > uint64(kv.cfg.MaxValueSize) {
		return Void, fmt.Errorf("%w: %d bytes (max %d)", ErrValueTooLarge, n, kv.cfg.MaxValueSize)
	}
	val, err := c.Memory.Read(valPtr, n)
	if err != nil {
		return Void, fmt.Errorf("read value: %w", err)
	}

	return Void, kv.Set(key, val)
}

// Get handles db_get(key_ptr, dst_ptr, max_len) -> written. A missing key
// writes nothing and returns 0.
func (kv *KV) Get(c *Call) (Value, error) {
	keyPtr, err := c.U32(0)
	if err != nil {
		return Void, err
	}
	dstPtr, err := c.U32(1)
	if err != nil {
		return Void, err
	}
	maxLen, err := c.U32(2)
	if err != nil {
		return Void, err
	}

	key, err := c.Memory.ReadCString(keyPtr, uint32(kv.cfg.MaxKeySize))
	if err != nil {
		return Void, fmt.Errorf("read key: %w", err)
	}

	val, ok := kv.Lookup(key)
	if !ok {
		return ValueI32(0), nil
	}
	if uint64(len(val)) > uint64(maxLen) {
		val = val[:maxLen]
	}
	if err := c.Memory.Write(dstPtr, val); err != nil {
		return Void, fmt.Errorf("write value: %w", err)
	}
	return ValueI32(int32(len(val))), nil
}

// Set stores a copy of val under key.
func (kv *KV) Set(key, val []byte) error {
	if len(val) > kv.cfg.MaxValueSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrValueTooLarge, len(val), kv.cfg.MaxValueSize)
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	if _, exists := kv.data[string(key)]; !exists && len(kv.data) >= kv.cfg.MaxEntries {
		return fmt.Errorf("%w: %d entries", ErrKVFull, kv.cfg.MaxEntries)
	}
	kv.data[string(key)] = append([]byte(nil), val...)
	return nil
}

// Lookup returns a copy of the value stored under key.
func (kv *KV) Lookup(key []byte) ([]byte, bool) {
	kv.mu.RLock()
	val, ok := kv.data[string(key)]
	kv.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return append([]byte(nil), val...), true
}

func (kv *KV) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.data)
}

// Keys returns the stored keys in sorted order.
func (kv *KV) Keys() []string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset drops every entry.
func (kv *KV) Reset() {
	kv.mu.Lock()
	kv.data = make(map[string][]byte)
	kv.mu.Unlock()
}
