package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = 60 * time.Second

// CachingEvaluator wraps an Evaluator with a bounded LRU decision cache
// keyed by a canonicalized-input hash, in-flight request coalescing, and
// fail-closed behavior on evaluator error.
type CachingEvaluator struct {
	inner Evaluator
	ttl   time.Duration
	group singleflight.Group

	mu       sync.Mutex
	entries  map[uint64]*cacheEntry
	order    []uint64 // LRU order, oldest first
	capacity int
}

type cacheEntry struct {
	output    EvaluatorOutput
	expiresAt time.Time
}

// NewCachingEvaluator wraps inner with a decision cache of the given
// capacity (entry count) and default TTL. A capacity of 0 disables
// caching; every call goes straight to inner (still coalesced).
func NewCachingEvaluator(inner Evaluator, capacity int, ttl time.Duration) *CachingEvaluator {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachingEvaluator{
		inner:    inner,
		ttl:      ttl,
		entries:  make(map[uint64]*cacheEntry),
		capacity: capacity,
	}
}

// Evaluate returns a cached decision when one is fresh, otherwise calls the
// inner evaluator once per distinct in-flight key (coalescing concurrent
// identical requests) and fails closed (Allow=false) if the inner
// evaluator returns an error.
func (c *CachingEvaluator) Evaluate(ctx context.Context, input EvaluatorInput) (EvaluatorOutput, error) {
	out, _, err := c.EvaluateWithCacheInfo(ctx, input)
	return out, err
}

// EvaluateWithCacheInfo behaves like Evaluate but additionally reports
// whether the result came from the cache, so callers that must audit
// cache_hit on every decision (the policy decision engine) don't need to
// duplicate the lookup.
func (c *CachingEvaluator) EvaluateWithCacheInfo(ctx context.Context, input EvaluatorInput) (EvaluatorOutput, bool, error) {
	key := cacheKey(input)

	if out, ok := c.lookup(key); ok {
		return out, true, nil
	}

	result, err, _ := c.group.Do(fmt.Sprintf("%d", key), func() (interface{}, error) {
		out, evalErr := c.inner.Evaluate(ctx, input)
		if evalErr != nil {
			return EvaluatorOutput{}, evalErr
		}
		c.store(key, out)
		return out, nil
	})
	if err != nil {
		// Fail-closed: evaluator errors never resolve to an allow decision.
		return EvaluatorOutput{Allow: false, Reason: "policy engine error"}, false, err
	}
	return result.(EvaluatorOutput), false, nil
}

func (c *CachingEvaluator) lookup(key uint64) (EvaluatorOutput, bool) {
	if c.capacity <= 0 {
		return EvaluatorOutput{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return EvaluatorOutput{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.order = removeKey(c.order, key)
		return EvaluatorOutput{}, false
	}
	return entry.output, true
}

func (c *CachingEvaluator) store(key uint64, out EvaluatorOutput) {
	if c.capacity <= 0 {
		return
	}
	ttl := c.ttl
	if out.TTLSeconds > 0 {
		ttl = time.Duration(out.TTLSeconds) * time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = &cacheEntry{output: out, expiresAt: time.Now().Add(ttl)}

	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func removeKey(order []uint64, key uint64) []uint64 {
	for i, k := range order {
		if k == key {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// cacheKey hashes a canonicalized JSON encoding of input. Map/slice fields
// are sorted during marshaling via canonicalInput to keep the hash stable
// across equivalent inputs with differing iteration order.
func cacheKey(input EvaluatorInput) uint64 {
	canonical := canonicalInput(input)
	data, err := json.Marshal(canonical)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

type sortedInput struct {
	Path           string                 `json:"path"`
	ToolName       string                 `json:"tool_name"`
	ToolArguments  map[string]interface{} `json:"tool_arguments"`
	UserRoles      []string               `json:"user_roles"`
	IdentityID     string                 `json:"identity_id"`
	ActionType     string                 `json:"action_type"`
	DestDomain     string                 `json:"dest_domain"`
	DestIP         string                 `json:"dest_ip"`
	DestPort       int                    `json:"dest_port"`
	Framework      string                 `json:"framework"`
	FrameworkAttrs map[string]string      `json:"framework_attrs"`
}

func canonicalInput(input EvaluatorInput) sortedInput {
	roles := append([]string(nil), input.UserRoles...)
	sort.Strings(roles)
	return sortedInput{
		Path:           input.Path,
		ToolName:       input.ToolName,
		ToolArguments:  input.ToolArguments,
		UserRoles:      roles,
		IdentityID:     input.IdentityID,
		ActionType:     input.ActionType,
		DestDomain:     input.DestDomain,
		DestIP:         input.DestIP,
		DestPort:       input.DestPort,
		Framework:      input.Framework,
		FrameworkAttrs: input.FrameworkAttrs,
	}
}
