package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniql-engine/pipeql/engine/models"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })
}

func TestFindConfigFile_ExplicitPath(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("compiler: {}"), 0o644))

	path, err := findConfigFile(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, tmpFile, path)
}

func TestFindConfigFile_ExplicitPathNotFound(t *testing.T) {
	_, err := findConfigFile("/nonexistent/path/pipeql.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestFindConfigFile_AutoDiscovery(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	configPath := filepath.Join(root, "pipeql.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("compiler: {}"), 0o644))

	nested := filepath.Join(root, "deep", "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	path, err := findConfigFile("")
	require.NoError(t, err)

	expectedPath, _ := filepath.EvalSymlinks(configPath)
	actualPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, expectedPath, actualPath)
}

func TestFindConfigFile_StopsAtRepoRoot(t *testing.T) {
	outer := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outer, "pipeql.yaml"), []byte("compiler: {}"), 0o644))

	repo := filepath.Join(outer, "repo")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0o755))
	chdir(t, repo)

	path, err := findConfigFile("")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoadConfig_Defaults(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	chdir(t, root)

	cfg, path, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, path)

	assert.Equal(t, 64, cfg.Compiler.MaxDepth)
	assert.Equal(t, "{i}", cfg.Compiler.IndexToken)
	assert.Equal(t, 1000, cfg.Compiler.MaxUnionBranches)
	assert.Equal(t, "none", cfg.Compiler.CollectionNaming)
	assert.Equal(t, 30*time.Second, cfg.Mongo.Timeout)
	assert.Nil(t, cfg.RedisOptions())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeql.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
compiler:
  index_token: "#"
  time_zone: "+07:00"
  collection_naming: plural
mongo:
  database: shop
  timeout: 5s
redis:
  addr: localhost:6379
  ttl: 1m
`), 0o644))
	t.Setenv("PIPEQL_COMPILER_MAX_UNION_BRANCHES", "12")

	cfg, gotPath, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, gotPath)

	opts := cfg.CompilerOptions()
	assert.Equal(t, "#", opts.IndexToken)
	assert.Equal(t, 12, opts.MaxUnionBranches)
	assert.Equal(t, "+07:00", opts.TimeZone)
	assert.Equal(t, "plural", opts.CollectionNaming)

	assert.Equal(t, "shop", cfg.Mongo.Database)
	assert.Equal(t, 5*time.Second, cfg.Mongo.Timeout)

	redisOpts := cfg.RedisOptions()
	require.NotNil(t, redisOpts)
	assert.Equal(t, "localhost:6379", redisOpts.Addr)
	assert.Equal(t, time.Minute, cfg.Redis.TTL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeql.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compiler:\n  collection_naming: snake\n"), 0o644))

	_, _, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection_naming")
}

func TestConfigRegistry(t *testing.T) {
	cfg := &Config{Compiler: CompilerConfig{MaxDepth: 2}}
	assert.Equal(t, 2, cfg.Registry().MaxDepth())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitGeneral, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitConfig, ExitCode(ConfigError("loading configuration", nil)))
	assert.Equal(t, ExitDBConnect, ExitCode(DBConnectError("connecting", errors.New("refused"))))
}

func TestQueryErrorNamesClause(t *testing.T) {
	ce := models.NewError(models.CodeUnresolvedReference, "where[0][0].leftTerm", "unknown table %q", "b")
	err := QueryError("compiling query", ce)

	assert.Equal(t, ExitQuery, ExitCode(err))
	assert.Contains(t, err.Error(), "(where clause)")
	assert.True(t, errors.Is(err, models.ErrUnresolvedReference))
}
