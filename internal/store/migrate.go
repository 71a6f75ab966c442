package store

import (
	"encoding/json"
	"fmt"
)

// migrate upgrades a raw session document to the current format version,
// applying each step in sequence. It never downgrades and never mutates
// the caller's byte slice.
func migrate(raw []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	metaRaw, ok := doc["metadata"]
	if !ok {
		return nil, fmt.Errorf("missing metadata")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, fmt.Errorf("malformed metadata: %w", err)
	}

	version, _ := meta["format_version"].(string)
	if version == "" {
		version = "1.0"
	}

	steps := []struct {
		from string
		to   string
		fn   func(doc map[string]json.RawMessage, meta map[string]interface{}) error
	}{
		{"1.0", "1.1", migrate10to11},
		{"1.1", "1.2", migrate11to12},
		{"1.2", "1.3", migrate12to13},
	}

	for _, step := range steps {
		if !versionAtLeast(version, step.from) {
			continue
		}
		if versionAtLeast(version, step.to) {
			continue
		}
		if err := step.fn(doc, meta); err != nil {
			return nil, fmt.Errorf("migrating %s->%s: %w", step.from, step.to, err)
		}
		meta["format_version"] = step.to
		version = step.to
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	doc["metadata"] = metaBytes

	return json.Marshal(doc)
}

// versionAtLeast reports whether v is numerically >= floor, comparing the
// two-segment "major.minor" scheme used by format_version.
func versionAtLeast(v, floor string) bool {
	return compareVersion(v, floor) >= 0
}

func compareVersion(a, b string) int {
	pa, pb := splitVersion(a), splitVersion(b)
	for i := 0; i < 2; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) [2]int {
	var major, minor int
	fmt.Sscanf(v, "%d.%d", &major, &minor)
	return [2]int{major, minor}
}

// migrate10to11: 1.0 sessions predate tool_settings entirely. Backfill the
// default confirm_destructive policy.
func migrate10to11(doc map[string]json.RawMessage, meta map[string]interface{}) error {
	if _, ok := meta["tool_settings"]; !ok {
		meta["tool_settings"] = map[string]interface{}{
			"enabled": []string{},
			"policy":  "confirm_destructive",
		}
	}
	return nil
}

// migrate11to12: 1.1 sessions predate agent_settings.
func migrate11to12(doc map[string]json.RawMessage, meta map[string]interface{}) error {
	if _, ok := meta["agent_settings"]; !ok {
		meta["agent_settings"] = map[string]interface{}{
			"enabled": []string{},
		}
	}
	return nil
}

// migrate12to13: 1.2 sessions predate context_window_config; backfill it
// disabled so existing sessions keep their historical (implicit) window
// until the user opts into dynamic sizing.
func migrate12to13(doc map[string]json.RawMessage, meta map[string]interface{}) error {
	if _, ok := meta["context_window_config"]; !ok {
		meta["context_window_config"] = map[string]interface{}{
			"dynamic_enabled": false,
			"current_window":  0,
			"last_reason":     "no_adjustment",
			"history":         []interface{}{},
			"manual_override": false,
		}
	}
	return nil
}
