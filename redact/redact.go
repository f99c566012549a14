// Package redact scrubs secrets from transcript records before they leave
// the machine. Detection is layered: high-entropy token matching catches
// unknown secret formats, and gitleaks' rule set catches known ones.
package redact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// placeholder replaces each detected secret.
const placeholder = "REDACTED"

// secretPattern matches high-entropy candidate strings.
var secretPattern = regexp.MustCompile(`[A-Za-z0-9/+_=-]{10,}`)

// entropyThreshold is the minimum Shannon entropy for a candidate to be
// treated as a secret. High enough to pass over common identifiers, low
// enough to catch typical API keys, which sit well above 5.0.
const entropyThreshold = 4.5

var (
	gitleaksDetector     *detect.Detector
	gitleaksDetectorOnce sync.Once
)

func getDetector() *detect.Detector {
	gitleaksDetectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		gitleaksDetector = d
	})
	return gitleaksDetector
}

// Record scrubs one transcript record. JSON records are walked so only
// string values are rewritten (keys, IDs, signatures, and image payloads
// are left alone, keeping the record parseable server-side); non-JSON
// records are scrubbed as plain text.
func Record(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return line
	}

	var parsed any
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return []byte(String(string(line)))
	}

	repls := collectReplacements(parsed)
	if len(repls) == 0 {
		return line
	}

	// Targeted replacement on the raw bytes preserves the record's
	// original formatting and field order.
	result := string(line)
	for _, r := range repls {
		origJSON, err := jsonEncodeString(r[0])
		if err != nil {
			return []byte(String(string(line)))
		}
		replJSON, err := jsonEncodeString(r[1])
		if err != nil {
			return []byte(String(string(line)))
		}
		result = strings.ReplaceAll(result, origJSON, replJSON)
	}
	return []byte(result)
}

// String replaces secrets in s with the placeholder. A substring is
// redacted if either the entropy check or a gitleaks rule flags it.
func String(s string) string {
	type region struct{ start, end int }
	var regions []region

	for _, loc := range secretPattern.FindAllStringIndex(s, -1) {
		if shannonEntropy(s[loc[0]:loc[1]]) > entropyThreshold {
			regions = append(regions, region{loc[0], loc[1]})
		}
	}

	if d := getDetector(); d != nil {
		for _, f := range d.DetectString(s) {
			if f.Secret == "" {
				continue
			}
			searchFrom := 0
			for {
				idx := strings.Index(s[searchFrom:], f.Secret)
				if idx < 0 {
					break
				}
				abs := searchFrom + idx
				regions = append(regions, region{abs, abs + len(f.Secret)})
				searchFrom = abs + len(f.Secret)
			}
		}
	}

	if len(regions) == 0 {
		return s
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].start < regions[j].start
	})
	merged := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
		} else {
			merged = append(merged, r)
		}
	}

	var b strings.Builder
	prev := 0
	for _, r := range merged {
		b.WriteString(s[prev:r.start])
		b.WriteString(placeholder)
		prev = r.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// collectReplacements walks a parsed JSON value and collects unique
// (original, redacted) string pairs for values that need redaction.
func collectReplacements(v any) [][2]string {
	seen := make(map[string]bool)
	var repls [][2]string
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if skipObject(val) {
				return
			}
			for k, child := range val {
				if skipField(k) {
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range val {
				walk(child)
			}
		case string:
			redacted := String(val)
			if redacted != val && !seen[val] {
				seen[val] = true
				repls = append(repls, [2]string{val, redacted})
			}
		}
	}
	walk(v)
	return repls
}

// skipField excludes a JSON key from scanning. Signatures and IDs are
// high-entropy by construction but are not secrets, and the server needs
// them intact for correlation.
func skipField(key string) bool {
	if key == "signature" {
		return true
	}
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, "id") || strings.HasSuffix(lower, "ids")
}

// skipObject excludes base64 image payloads, which are all "high entropy".
func skipObject(obj map[string]any) bool {
	t, ok := obj["type"].(string)
	return ok && (strings.HasPrefix(t, "image") || t == "base64")
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := range len(s) {
		freq[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// jsonEncodeString returns the JSON encoding of s without HTML escaping.
func jsonEncodeString(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("json encode string: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
