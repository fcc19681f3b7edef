package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// DefaultConfigComparator computes a ConfigDiff between two configuration
// documents by marshaling both to JSON and walking the resulting maps, so
// it needs no knowledge of Config's Go field names: field paths come from
// the json tags each section carries.
type DefaultConfigComparator struct {
	secretFields map[string]bool
}

// NewConfigComparator returns a DefaultConfigComparator.
func NewConfigComparator() *DefaultConfigComparator {
	return &DefaultConfigComparator{
		secretFields: map[string]bool{
			"database.password": true,
			"cache.redis_password": true,
		},
	}
}

// Compare returns the structured diff between oldCfg and newCfg, restricted
// to sections if non-empty.
func (cc *DefaultConfigComparator) Compare(oldCfg *Config, newCfg *Config, sections []string) (*ConfigDiff, error) {
	diff := NewConfigDiff()

	oldMap, err := cc.configToMap(oldCfg)
	if err != nil {
		return nil, fmt.Errorf("diff: marshal old config: %w", err)
	}
	newMap, err := cc.configToMap(newCfg)
	if err != nil {
		return nil, fmt.Errorf("diff: marshal new config: %w", err)
	}

	if len(sections) > 0 {
		oldMap = cc.filterSections(oldMap, sections)
		newMap = cc.filterSections(newMap, sections)
	}

	cc.compareRecursive(oldMap, newMap, "", diff)

	diff.Affected = cc.IdentifyAffectedComponents(diff)
	diff.IsCritical = cc.IsCriticalChange(diff)
	diff.Summary = diff.GenerateSummary()

	return diff, nil
}

func (cc *DefaultConfigComparator) compareRecursive(oldMap, newMap map[string]interface{}, prefix string, diff *ConfigDiff) {
	for key, newValue := range newMap {
		fieldPath := cc.buildFieldPath(prefix, key)
		oldValue, oldExists := oldMap[key]

		if !oldExists {
			diff.Added[fieldPath] = cc.sanitizeFieldValue(fieldPath, newValue)
			continue
		}

		if !cc.isModified(oldValue, newValue) {
			continue
		}

		oldMapVal, oldIsMap := oldValue.(map[string]interface{})
		newMapVal, newIsMap := newValue.(map[string]interface{})
		if oldIsMap && newIsMap {
			cc.compareRecursive(oldMapVal, newMapVal, fieldPath, diff)
			continue
		}

		diff.Modified[fieldPath] = DiffEntry{
			OldValue: cc.sanitizeFieldValue(fieldPath, oldValue),
			NewValue: cc.sanitizeFieldValue(fieldPath, newValue),
			Type:     cc.detectType(newValue),
		}
	}

	for key := range oldMap {
		fieldPath := cc.buildFieldPath(prefix, key)
		if _, exists := newMap[key]; !exists {
			diff.Deleted = append(diff.Deleted, fieldPath)
		}
	}
}

// IdentifyAffectedComponents maps every changed field path to the module
// name that owns its top-level section.
func (cc *DefaultConfigComparator) IdentifyAffectedComponents(diff *ConfigDiff) []string {
	affected := make(map[string]bool)

	allFields := make([]string, 0, len(diff.Added)+len(diff.Modified)+len(diff.Deleted))
	for field := range diff.Added {
		allFields = append(allFields, field)
	}
	for field := range diff.Modified {
		allFields = append(allFields, field)
	}
	allFields = append(allFields, diff.Deleted...)

	for _, field := range allFields {
		if component := cc.fieldToComponent(field); component != "" {
			affected[component] = true
		}
	}

	components := make([]string, 0, len(affected))
	for component := range affected {
		components = append(components, component)
	}
	return components
}

// IsCriticalChange reports whether diff touches a field that cannot be
// applied to a running process without rebinding a listener or reopening a
// connection pool.
func (cc *DefaultConfigComparator) IsCriticalChange(diff *ConfigDiff) bool {
	criticalFields := map[string]bool{
		"core.root":                true,
		"core.pid_path":            true,
		"database.host":            true,
		"database.port":            true,
		"database.database":        true,
		"cache.redis_addr":         true,
		"http_listen.listen_addr":  true,
		"logfiles.error_log_path":  true,
	}

	for field := range diff.Modified {
		if criticalFields[field] {
			return true
		}
	}
	for _, field := range diff.Deleted {
		if criticalFields[field] {
			return true
		}
	}
	return false
}

func (cc *DefaultConfigComparator) configToMap(cfg *Config) (map[string]interface{}, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (cc *DefaultConfigComparator) filterSections(configMap map[string]interface{}, sections []string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for _, section := range sections {
		if value, exists := configMap[section]; exists {
			filtered[section] = value
		}
	}
	return filtered
}

func (cc *DefaultConfigComparator) buildFieldPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func (cc *DefaultConfigComparator) isModified(oldValue, newValue interface{}) bool {
	return !reflect.DeepEqual(oldValue, newValue)
}

func (cc *DefaultConfigComparator) sanitizeFieldValue(fieldPath string, value interface{}) interface{} {
	if cc.secretFields[fieldPath] {
		return "***REDACTED***"
	}

	lowerPath := strings.ToLower(fieldPath)
	for _, keyword := range []string{"password", "secret", "token"} {
		if strings.Contains(lowerPath, keyword) {
			return "***REDACTED***"
		}
	}
	return value
}

func (cc *DefaultConfigComparator) detectType(value interface{}) string {
	switch value.(type) {
	case int, int32, int64, uint, uint32, uint64:
		return "integer"
	case float32, float64:
		return "float"
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return "unknown"
	}
}

// fieldToComponent maps a JSON field path's top-level section to the
// module name that owns it.
func (cc *DefaultConfigComparator) fieldToComponent(field string) string {
	parts := strings.SplitN(field, ".", 2)
	if len(parts) == 0 {
		return ""
	}

	componentMap := map[string]string{
		"core":        "core",
		"logfiles":    "logfiles",
		"database":    "database",
		"cache":       "cache",
		"auditlog":    "auditlog",
		"http_listen": "httplisten",
	}

	if component, exists := componentMap[parts[0]]; exists {
		return component
	}
	return parts[0]
}

// CalculateDiff is a convenience wrapper around DefaultConfigComparator.Compare.
func CalculateDiff(oldCfg *Config, newCfg *Config, sections []string) (*ConfigDiff, error) {
	return NewConfigComparator().Compare(oldCfg, newCfg, sections)
}

// DiffToString renders a diff as a multi-line human-readable report.
func DiffToString(diff *ConfigDiff) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("summary: %s\n", diff.Summary))

	if len(diff.Added) > 0 {
		sb.WriteString("\nadded:\n")
		for field, value := range diff.Added {
			sb.WriteString(fmt.Sprintf("  + %s: %v\n", field, value))
		}
	}
	if len(diff.Modified) > 0 {
		sb.WriteString("\nmodified:\n")
		for field, entry := range diff.Modified {
			sb.WriteString(fmt.Sprintf("  ~ %s: %v -> %v\n", field, entry.OldValue, entry.NewValue))
		}
	}
	if len(diff.Deleted) > 0 {
		sb.WriteString("\ndeleted:\n")
		for _, field := range diff.Deleted {
			sb.WriteString(fmt.Sprintf("  - %s\n", field))
		}
	}
	if len(diff.Affected) > 0 {
		sb.WriteString(fmt.Sprintf("\naffected modules: %s\n", strings.Join(diff.Affected, ", ")))
	}
	if diff.IsCritical {
		sb.WriteString("\nWARNING: contains a change that requires rebinding a listener or reopening a connection\n")
	}

	return sb.String()
}

// MergeDiffs combines diffs from multiple modules into one report.
func MergeDiffs(diffs ...*ConfigDiff) *ConfigDiff {
	merged := NewConfigDiff()

	for _, diff := range diffs {
		for field, value := range diff.Added {
			merged.Added[field] = value
		}
		for field, entry := range diff.Modified {
			merged.Modified[field] = entry
		}
		merged.Deleted = append(merged.Deleted, diff.Deleted...)
		for _, component := range diff.Affected {
			if !contains(merged.Affected, component) {
				merged.Affected = append(merged.Affected, component)
			}
		}
		merged.IsCritical = merged.IsCritical || diff.IsCritical
	}

	merged.Summary = merged.GenerateSummary()
	return merged
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
