// Package featureflags evaluates the FEATURE_FLAGS setting.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// CallHistory stores a CALL message in the conversation when a call terminates.
const CallHistory = "call_history"

// Set holds parsed flag values, e.g. "call_history=on,new_ui=25%".
type Set struct {
	values map[string]string
}

// Parse builds a Set from a comma separated key=value list. Malformed pairs are skipped.
func Parse(raw string) *Set {
	values := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key, value = clean(key), clean(value)
		if key == "" || value == "" {
			continue
		}
		values[key] = value
	}
	return &Set{values: values}
}

// On reports whether flag is enabled for userID. Percent values roll out by a stable
// hash of flag and user; userID 0 only passes a 100% rollout.
func (s *Set) On(flag string, userID uint) bool {
	if s == nil {
		return false
	}
	value, ok := s.values[clean(flag)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1", "yes":
		return true
	case "off", "false", "0", "no":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if userID == 0 {
		return false
	}
	return bucket(flag, userID) < pct
}

// Names returns the configured flag names, sorted.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For evaluates every configured flag for one user.
func (s *Set) For(userID uint) map[string]bool {
	out := make(map[string]bool)
	for _, name := range s.Names() {
		out[name] = s.On(name, userID)
	}
	return out
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(flag string, userID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", clean(flag), userID)
	return int(h.Sum32() % 100)
}
