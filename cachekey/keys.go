// Package cachekey produces deterministic, order-independent cache keys for
// each semantic domain. Two descriptors that differ only in the ordering of
// their list or map fields always hash to the same key.
//
// Keys have the form <domain-tag>:<hash>:<hash>[:<hash>] where each hash is
// a 32-bit rolling hash, base-36 encoded, so key length stays small and
// roughly constant regardless of input size. The hash is deliberately not
// cryptographic; a collision hands one query another query's cached value,
// a tradeoff accepted for short keys. Construct a [Generator] with
// [WithWideHash] for 64-bit xxhash keys where that rate is unacceptable.
package cachekey

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// hash32 is a 32-bit rolling string hash: h = h*31 + byte with int32
// wraparound, absolute value, base-36.
func hash32(s string) string {
	var h int32
	for i := 0; i < len(s); i++ {
		h = (h << 5) - h + int32(s[i])
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

func hash64(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 36)
}

// Generator builds cache keys. The zero value uses the default 32-bit hash.
type Generator struct {
	wide bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithWideHash switches to a 64-bit xxhash, trading longer keys for a far
// lower collision rate.
func WithWideHash() Option {
	return func(g *Generator) { g.wide = true }
}

// New returns a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var defaultGenerator = New()

func (g *Generator) hash(s string) string {
	if g.wide {
		return hash64(s)
	}
	return hash32(s)
}

// encodeSorted normalizes a list field: ordering differences between
// semantically equal descriptors must not change the key.
func encodeSorted(items []string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// encodeMap normalizes a map field via JSON, which writes object keys in
// sorted order at every nesting level.
func encodeMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(data)
}

func (g *Generator) join(tag string, parts ...string) string {
	hashed := make([]string, len(parts)+1)
	hashed[0] = tag
	for i, part := range parts {
		hashed[i+1] = g.hash(part)
	}
	return strings.Join(hashed, ":")
}

// VectorSearch keys a vector similarity search by query, source documents,
// and search options.
func (g *Generator) VectorSearch(query string, sources []string, options map[string]any) string {
	return g.join("vs", query, encodeSorted(sources), encodeMap(options))
}

// AgentRouting keys an agent routing decision by query and context.
func (g *Generator) AgentRouting(query string, context map[string]any) string {
	return g.join("route", query, encodeMap(context))
}

// AgentResponse keys a generated agent response by agent type, query, and
// context. A different agent type with the same query is a different key.
func (g *Generator) AgentResponse(agentType, query string, context map[string]any) string {
	return g.join("resp", agentType, query, encodeMap(context))
}

// DocumentEmbedding keys an embedding by document content and model.
func (g *Generator) DocumentEmbedding(content, model string) string {
	return g.join("emb", content, model)
}

// HealthCheck keys a health probe by service and endpoint.
func (g *Generator) HealthCheck(service, endpoint string) string {
	return g.join("health", service, endpoint)
}

// VectorSearch builds a vector-search key with the default generator.
func VectorSearch(query string, sources []string, options map[string]any) string {
	return defaultGenerator.VectorSearch(query, sources, options)
}

// AgentRouting builds a routing key with the default generator.
func AgentRouting(query string, context map[string]any) string {
	return defaultGenerator.AgentRouting(query, context)
}

// AgentResponse builds a response key with the default generator.
func AgentResponse(agentType, query string, context map[string]any) string {
	return defaultGenerator.AgentResponse(agentType, query, context)
}

// DocumentEmbedding builds an embedding key with the default generator.
func DocumentEmbedding(content, model string) string {
	return defaultGenerator.DocumentEmbedding(content, model)
}

// HealthCheck builds a health-probe key with the default generator.
func HealthCheck(service, endpoint string) string {
	return defaultGenerator.HealthCheck(service, endpoint)
}
