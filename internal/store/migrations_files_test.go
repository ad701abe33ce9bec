package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	migrationFilePattern = regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.(up|down)\.sql$`)
	createTablePattern   = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS (\w+)`)
	dropTablePattern     = regexp.MustCompile(`(?i)DROP TABLE IF EXISTS (\w+)`)
)

type migrationPair struct {
	up, down string
}

func readMigrationPairs(t *testing.T) map[int]*migrationPair {
	t.Helper()
	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	pairs := map[int]*migrationPair{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		require.NotNil(t, match, "unexpected file %s in migrations dir", entry.Name())
		version, err := strconv.Atoi(match[1])
		require.NoError(t, err)

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		body := string(raw)
		require.NotEmpty(t, strings.TrimSpace(body), "%s is empty", entry.Name())

		if pairs[version] == nil {
			pairs[version] = &migrationPair{}
		}
		pair := pairs[version]
		if match[2] == "up" {
			require.Empty(t, pair.up, "duplicate up file for version %d", version)
			pair.up = body
		} else {
			require.Empty(t, pair.down, "duplicate down file for version %d", version)
			pair.down = body
		}
	}
	require.NotEmpty(t, pairs, "no migrations discovered")
	return pairs
}

func TestMigrationVersionsAreContiguous(t *testing.T) {
	pairs := readMigrationPairs(t)
	versions := make([]int, 0, len(pairs))
	for version := range pairs {
		versions = append(versions, version)
	}
	sort.Ints(versions)
	for i, version := range versions {
		assert.Equal(t, i+1, version, "migration versions must start at 0001 without gaps")
	}
}

func TestMigrationsDropWhatTheyCreate(t *testing.T) {
	for version, pair := range readMigrationPairs(t) {
		t.Run(fmt.Sprintf("%04d", version), func(t *testing.T) {
			require.NotEmpty(t, pair.up, "missing up file")
			require.NotEmpty(t, pair.down, "missing down file")

			dropped := map[string]bool{}
			for _, m := range dropTablePattern.FindAllStringSubmatch(pair.down, -1) {
				dropped[m[1]] = true
			}
			for _, m := range createTablePattern.FindAllStringSubmatch(pair.up, -1) {
				assert.True(t, dropped[m[1]], "down migration does not drop %s", m[1])
			}
		})
	}
}

func TestValuesTableKeepsOneSlotPerRow(t *testing.T) {
	var all strings.Builder
	for _, pair := range readMigrationPairs(t) {
		all.WriteString(pair.up)
	}
	ddl := all.String()
	for _, name := range []string{
		"issue_property_values_one_slot",
		"issue_property_values_one_entity",
		"issue_property_options_name_key",
	} {
		assert.Contains(t, ddl, name)
	}
}
