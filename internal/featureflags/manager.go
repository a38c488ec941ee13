// Package featureflags evaluates client feature flags from a key=value list.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Flags understood by the client.
const (
	// PostAuthorSync makes post cards carry and receive their author's follow state.
	PostAuthorSync = "post_author_sync"
	// PageCache enables the Redis read-through page cache.
	PageCache = "page_cache"
)

// rule is a parsed flag value: always on, always off, or a per-subject rollout
// percentage in between.
type rule struct {
	percent int
}

func parseRule(value string) (rule, bool) {
	switch value {
	case "on", "true", "1":
		return rule{percent: 100}, true
	case "off", "false", "0":
		return rule{percent: 0}, true
	}
	pct, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{}, false
	}
	n, err := strconv.Atoi(pct)
	if err != nil {
		return rule{}, false
	}
	return rule{percent: min(max(n, 0), 100)}, true
}

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "post_author_sync=on,page_cache=25%"
//
// Values are on/true/1, off/false/0 or N% for a deterministic per-subject rollout.
// Unparseable entries are ignored.
type Manager struct {
	rules map[string]rule
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	rules := make(map[string]rule)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" {
			continue
		}
		if r, ok := parseRule(value); ok {
			rules[key] = r
		}
	}
	return &Manager{rules: rules}
}

// Enabled returns whether a flag is enabled for subject, the session username. A
// partial rollout is never enabled for an anonymous subject.
func (m *Manager) Enabled(name, subject string) bool {
	if m == nil {
		return false
	}
	name = normalize(name)
	r, ok := m.rules[name]
	switch {
	case !ok || r.percent == 0:
		return false
	case r.percent == 100:
		return true
	case subject == "":
		return false
	}
	return rolloutBucket(name, subject) < r.percent
}

// Snapshot evaluates every configured flag for subject.
func (m *Manager) Snapshot(subject string) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(m.rules))
	for name := range m.rules {
		out[name] = m.Enabled(name, subject)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, subject string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name + ":" + subject))
	return int(h.Sum32() % 100)
}
