package registry

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// HashVersion prefixes every content hash input, letting a future
// algorithm change be detected without reinterpreting old hashes.
const HashVersion = "v1"

// ComputeContentHash implements the bundle's canonical-hash algorithm:
// sort artifacts by (artifact_type, ordinal, path), hash a
// "v1:"-prefixed SHA-256 over the manifest title and each artifact's
// normalized, canonicalized content. The result is invariant under
// artifact reordering, JSON key reordering, and line-ending
// normalization.
func ComputeContentHash(manifest Manifest, artifacts []Artifact) (string, error) {
	sorted := make([]Artifact, len(artifacts))
	copy(sorted, artifacts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ArtifactType != sorted[j].ArtifactType {
			return sorted[i].ArtifactType < sorted[j].ArtifactType
		}
		if sorted[i].Ordinal != sorted[j].Ordinal {
			return sorted[i].Ordinal < sorted[j].Ordinal
		}
		return sorted[i].Path < sorted[j].Path
	})

	h := sha256.New()
	fmt.Fprintf(h, "%s:", HashVersion)
	fmt.Fprintf(h, "%s\n", manifest.Title)

	for _, a := range sorted {
		canon, err := canonicalizeArtifact(a)
		if err != nil {
			return "", fmt.Errorf("canonicalizing artifact %s:%s: %w", a.ArtifactType, a.Path, err)
		}
		fmt.Fprintf(h, "%s:%s\n", a.ArtifactType, a.Path)
		fmt.Fprintf(h, "%s\n", canon)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// ComputeArtifactHash hashes a single artifact's normalized content,
// independent of any bundle.
func ComputeArtifactHash(content string) string {
	h := sha256.Sum256([]byte(normalizeContent(content)))
	return fmt.Sprintf("%x", h)
}

// normalizeContent normalizes line endings to "\n" and trims trailing
// whitespace from every line, matching canonical_hash.rs's
// normalize_content.
func normalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// canonicalizeArtifact dispatches canonicalization by ArtifactType:
// JSON artifacts re-serialize with sorted keys, YAML artifacts
// re-serialize through a sorted-key intermediate, and SQL migration
// artifacts are only line-ending/whitespace normalized.
func canonicalizeArtifact(a Artifact) (string, error) {
	switch a.ArtifactType {
	case ArtifactAttributeJSON, ArtifactTaxonomyJSON, ArtifactDocJSON:
		return canonicalizeJSON(a.Content)
	case ArtifactVerbYAML:
		return canonicalizeYAML(a.Content)
	case ArtifactMigrationSQL, ArtifactMigrationDownSQL:
		return normalizeContent(a.Content), nil
	default:
		return normalizeContent(a.Content), nil
	}
}

// canonicalizeJSON parses then re-serializes JSON content with
// lexicographically sorted object keys.
func canonicalizeJSON(content string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return "", err
	}
	out, err := json.Marshal(sortedJSON(v))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sortedJSON recursively rewrites maps so Marshal always emits keys in
// sorted order (encoding/json already sorts map[string]any keys, but
// this normalizes nested structures explicitly so the guarantee does
// not depend on that implementation detail).
func sortedJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortedJSON(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sortedJSON(item)
		}
		return out
	default:
		return t
	}
}

// canonicalizeYAML parses YAML content, rewrites every mapping as a
// string-keyed map, and re-marshals it as YAML (yaml.v3 emits map keys
// in sorted order), then normalizes line endings and trailing spaces.
func canonicalizeYAML(content string) (string, error) {
	var v any
	if err := yaml.Unmarshal([]byte(content), &v); err != nil {
		return "", err
	}
	normalized := normalizeYAMLKeys(v)
	out, err := yaml.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return normalizeContent(string(out)), nil
}

func normalizeYAMLKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAMLKeys(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeYAMLKeys(item)
		}
		return out
	default:
		return t
	}
}
