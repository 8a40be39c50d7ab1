package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testKey      = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"COFFEECHAIN_CONFIG", "PORT", "BLOCKCHAIN_URL", "DISTRIBUTE_LOCK", "READ_RETRIES", "REQUEST_TIMEOUT"} {
		t.Setenv(key, "")
	}
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:7545", cfg.Ledger.URL)
	assert.Equal(t, 2, cfg.Ledger.ReadRetries)
	assert.Equal(t, "local", cfg.Lock.Mode)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, ":5000", cfg.Address())
}

func TestLoadLayersFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coffeechain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 6000
log_format: json
request_timeout: 30s
ledger:
  url: http://file:8545
  contract_address: `+testContract+`
  read_retries: 4
lock:
  mode: redis
  ttl: 1m
`), 0o600))

	t.Setenv("COFFEECHAIN_CONFIG", path)
	t.Setenv("BLOCKCHAIN_URL", "http://env:8545")
	t.Setenv("OWNER_PRIVATE_KEY", testKey)
	t.Setenv("CHAIN_ID", "1337")
	t.Setenv("PORT", "7000")

	cfg, err := Load([]string{"-port", "8000", "-distribute-lock", "none"})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 8000, cfg.Port, "flags win over env")
	assert.Equal(t, "http://env:8545", cfg.Ledger.URL, "env wins over file")
	assert.Equal(t, testContract, cfg.Ledger.ContractAddress)
	assert.Equal(t, 4, cfg.Ledger.ReadRetries)
	assert.Equal(t, int64(1337), cfg.Ledger.ChainID)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "none", cfg.Lock.Mode)
	assert.Equal(t, time.Minute, cfg.Lock.TTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadReportsBadEnvironment(t *testing.T) {
	t.Setenv("COFFEECHAIN_CONFIG", "")
	t.Setenv("CHAIN_ID", "ganache")
	_, err := Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAIN_ID")
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"-h"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestLoadVersionFlag(t *testing.T) {
	t.Setenv("COFFEECHAIN_CONFIG", "")
	cfg, err := Load([]string{"-version"})
	require.NoError(t, err)
	assert.True(t, cfg.ShowVersion)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract address")
	assert.Contains(t, err.Error(), "private key")

	cfg.Ledger.ContractAddress = testContract
	cfg.Ledger.PrivateKey = testKey
	require.NoError(t, cfg.Validate())

	cfg.Journal.Driver = "mongo"
	cfg.Lock.Mode = "zookeeper"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal driver")
	assert.Contains(t, err.Error(), "lock mode")
}
