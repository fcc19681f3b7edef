package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclehost/confcycle/modules/cache"
	"github.com/cyclehost/confcycle/modules/database"
	"github.com/cyclehost/confcycle/modules/httplisten"
)

func TestCalculateDiff_DetectsModifiedAndCriticalFields(t *testing.T) {
	oldCfg := &Config{
		Database:   database.Config{Host: "db1.local", Port: 5432},
		HTTPListen: httplisten.Config{ListenAddr: "127.0.0.1:9090"},
	}
	newCfg := &Config{
		Database:   database.Config{Host: "db2.local", Port: 5432},
		HTTPListen: httplisten.Config{ListenAddr: "127.0.0.1:9090"},
	}

	diff, err := CalculateDiff(oldCfg, newCfg, nil)
	require.NoError(t, err)

	assert.Contains(t, diff.Modified, "database.host")
	assert.Equal(t, "db1.local", diff.Modified["database.host"].OldValue)
	assert.Equal(t, "db2.local", diff.Modified["database.host"].NewValue)
	assert.True(t, diff.IsCritical)
	assert.Contains(t, diff.Affected, "database")
}

func TestCalculateDiff_NoChangesIsEmpty(t *testing.T) {
	cfg := &Config{Database: database.Config{Host: "db1.local"}}

	diff, err := CalculateDiff(cfg, cfg, nil)
	require.NoError(t, err)

	assert.True(t, diff.IsEmpty())
	assert.Equal(t, "no changes", diff.Summary)
}

func TestCalculateDiff_RedactsSecretFields(t *testing.T) {
	oldCfg := &Config{Database: database.Config{Password: "old-pass"}}
	newCfg := &Config{Database: database.Config{Password: "new-pass"}}

	diff, err := CalculateDiff(oldCfg, newCfg, nil)
	require.NoError(t, err)

	entry, ok := diff.Modified["database.password"]
	require.True(t, ok)
	assert.Equal(t, "***REDACTED***", entry.OldValue)
	assert.Equal(t, "***REDACTED***", entry.NewValue)
}

func TestCalculateDiff_SectionFilterRestrictsComparison(t *testing.T) {
	oldCfg := &Config{
		Database: database.Config{Host: "db1.local"},
		Cache:    cache.Config{RedisAddr: "redis1.local:6379"},
	}
	newCfg := &Config{
		Database: database.Config{Host: "db2.local"},
		Cache:    cache.Config{RedisAddr: "redis2.local:6379"},
	}

	diff, err := CalculateDiff(oldCfg, newCfg, []string{"cache"})
	require.NoError(t, err)

	assert.NotContains(t, diff.Modified, "database.host")
	assert.Contains(t, diff.Modified, "cache.redis_addr")
}

func TestMergeDiffs_CombinesAndDeduplicatesAffected(t *testing.T) {
	a := NewConfigDiff()
	a.Modified["database.host"] = DiffEntry{OldValue: "x", NewValue: "y"}
	a.Affected = []string{"database"}

	b := NewConfigDiff()
	b.Modified["cache.redis_addr"] = DiffEntry{OldValue: "x", NewValue: "y"}
	b.Affected = []string{"database", "cache"}

	merged := MergeDiffs(a, b)

	assert.Len(t, merged.Modified, 2)
	assert.ElementsMatch(t, []string{"database", "cache"}, merged.Affected)
}

func TestDiffToString_IncludesSummaryAndCriticalWarning(t *testing.T) {
	diff := NewConfigDiff()
	diff.Modified["database.host"] = DiffEntry{OldValue: "a", NewValue: "b"}
	diff.IsCritical = true
	diff.Summary = diff.GenerateSummary()

	out := DiffToString(diff)
	assert.Contains(t, out, "1 modified")
	assert.Contains(t, out, "WARNING")
}
