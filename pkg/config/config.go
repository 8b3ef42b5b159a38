// Package config loads the sessiond configuration record from the
// process environment. The record it produces, types.Config, is
// immutable once Load returns (see DESIGN.md for why this stays
// os.Getenv-based rather than pulling in a config library).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/sessiond/pkg/types"
)

// Env variable names recognized by Load.
const (
	EnvSandboxTimeout   = "SANDBOX_TIMEOUT"
	EnvMaxSandboxes     = "MAX_SANDBOXES"
	EnvDockerImage      = "DOCKER_IMAGE"
	EnvDockerHost       = "DOCKER_HOST"
	EnvWorkspaceRoot    = "WORKSPACE_ROOT"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogJSON          = "LOG_JSON"
	EnvDBHost           = "DB_HOST"
	EnvDBPort           = "DB_PORT"
	EnvDBUser           = "DB_USER"
	EnvDBPassword       = "DB_PASSWORD"
	EnvDBName           = "DB_NAME"
	EnvPackageSourceCred = "PACKAGE_SOURCE_CREDENTIAL"
	EnvAllowPackageInstall = "ALLOW_PACKAGE_INSTALL"
	EnvEncryptionKey    = "SESSIOND_ENCRYPTION_KEY" // any passphrase; SHA-256-hashed to 32 bytes by deriveKey, random key when unset
	EnvMaxFileBytes     = "MAX_FILE_BYTES"
	EnvExecTimeBudget   = "EXEC_TIME_BUDGET_SECONDS"
	EnvExecByteBudget   = "EXEC_BYTE_BUDGET"
	EnvFileTransferTimeout = "FILE_TRANSFER_TIMEOUT_SECONDS"
	EnvPerSessionMemory = "PER_SESSION_MEMORY_BYTES"
	EnvPerSessionCPU    = "PER_SESSION_CPU_QUOTA"
	EnvReaperInterval   = "REAPER_INTERVAL_SECONDS"
)

// Load builds the immutable configuration record from the process
// environment, applying types.Defaults() for anything unset. It never
// mutates the environment and is safe to call exactly once at startup.
func Load() (types.Config, error) {
	cfg := types.Defaults()

	if v := os.Getenv(EnvSandboxTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvSandboxTimeout, err)
		}
		cfg.IdleTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvMaxSandboxes); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvMaxSandboxes, err)
		}
		cfg.MaxSessions = n
	}

	cfg.ImageName = getOr(EnvDockerImage, cfg.ImageName)
	cfg.RuntimeSocket = getOr(EnvDockerHost, cfg.RuntimeSocket)
	cfg.WorkspaceRoot = os.Getenv(EnvWorkspaceRoot)
	cfg.LogLevel = getOr(EnvLogLevel, cfg.LogLevel)
	cfg.LogJSON = boolEnv(EnvLogJSON, cfg.LogJSON)
	cfg.PackageSourceCredential = os.Getenv(EnvPackageSourceCred)
	cfg.AllowPackageInstall = boolEnv(EnvAllowPackageInstall, cfg.AllowPackageInstall)

	var passthrough []string
	for _, name := range []string{EnvDBHost, EnvDBPort, EnvDBUser, EnvDBPassword, EnvDBName} {
		if v, ok := os.LookupEnv(name); ok {
			passthrough = append(passthrough, name+"="+v)
		}
	}
	cfg.EnvPassthrough = passthrough

	if v := os.Getenv(EnvMaxFileBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvMaxFileBytes, err)
		}
		cfg.MaxFileBytes = n
	}

	if v := os.Getenv(EnvExecTimeBudget); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvExecTimeBudget, err)
		}
		cfg.ExecTimeBudget = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvExecByteBudget); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvExecByteBudget, err)
		}
		cfg.ExecByteBudget = n
	}

	if v := os.Getenv(EnvFileTransferTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvFileTransferTimeout, err)
		}
		cfg.FileTransferTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvPerSessionMemory); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvPerSessionMemory, err)
		}
		cfg.Resources.MemoryBytes = n
	}

	if v := os.Getenv(EnvPerSessionCPU); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvPerSessionCPU, err)
		}
		cfg.Resources.CPUQuota = q
	}

	if v := os.Getenv(EnvReaperInterval); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", EnvReaperInterval, err)
		}
		cfg.ReaperInterval = time.Duration(secs) * time.Second
	}

	key, err := loadEncryptionKey()
	if err != nil {
		return cfg, err
	}
	cfg.EncryptionKey = key

	if cfg.MaxSessions <= 0 {
		return cfg, fmt.Errorf("config: %s must be positive, got %d", EnvMaxSandboxes, cfg.MaxSessions)
	}
	if cfg.ImageName == "" {
		return cfg, fmt.Errorf("config: %s is required", EnvDockerImage)
	}

	return cfg, nil
}

// loadEncryptionKey derives a deterministic 32-byte key from
// SESSIOND_ENCRYPTION_KEY when set (any length, hashed down via
// security.DeriveKeyFromClusterID's same SHA-256 construction so a
// human-supplied passphrase is as valid as a generated one), or
// generates one in memory when unset — acceptable because env_snapshot
// encryption only protects against adjacent-process memory disclosure
// within one run; sessions are explicitly non-persistent across
// restarts.
func loadEncryptionKey() ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(EnvEncryptionKey))
	if v == "" {
		return randomKey()
	}
	return deriveKey(v), nil
}

func getOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

func boolEnv(name string, fallback bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
