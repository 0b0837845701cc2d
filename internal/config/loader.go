// internal/config/loader.go
//
// Configuration loader and hot-reloader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file — first `<root>/conf/.env`, then cwd fallback.
  2. `conf/global.yaml`.
  3. Environment variables prefixed `GUILDLOGS_`, where `__` maps to “.”
     (e.g., `GUILDLOGS_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, the tree is unmarshalled into strongly-typed structs,
`vault:`-prefixed secrets are resolved, the result is validated,
enriched with the runtime root path, and cached in an `atomic.Pointer`
for lock-free reads.  `Reload()` simply calls `Load()` again and swaps
the pointer.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`;
    this lets `go run ./cmd/web` work from any sub-directory.
  • Secret resolution goes through internal/vault; a config without
    `vault:` values never touches the Vault server.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/guildlogs/panel/internal/vault"
)

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves GUILDLOGS_ROOT or climbs directories until
// conf/global.yaml is found.  Falls back to executable heuristic for
// production layout.
func rootDir() string {
	if r := os.Getenv("GUILDLOGS_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, resolves secrets, validates,
// and caches Config.
func Load(ctx context.Context) (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// Env overrides: GUILDLOGS_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider("GUILDLOGS_", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	if err := resolveSecrets(ctx, &cfg); err != nil {
		zap.S().Errorw("config secret resolution failed", "err", err)
		return nil, err
	}

	applyDefaults(&cfg)
	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"force_https", cfg.HTTP.ForceHTTPS,
		"registry", cfg.Registry.Path,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// applyDefaults fills tunables the YAML may omit.
func applyDefaults(cfg *Config) {
	if cfg.Auth.SessionHours <= 0 {
		cfg.Auth.SessionHours = 24
	}
	if cfg.Identity.APIBase == "" {
		cfg.Identity.APIBase = "https://discord.com/api"
	}
	if cfg.SiteName == "" {
		cfg.SiteName = "Multi-Server Logs Panel"
	}
	if cfg.Registry.Path != "" && !filepath.IsAbs(cfg.Registry.Path) {
		cfg.Registry.Path = filepath.Join(rootDir(), cfg.Registry.Path)
	}
}

/*──────────────────────── secret resolution ───────────────────────────────*/

// resolveSecrets replaces every `vault:` prefixed value in cfg with the
// secret it names.  The Vault client is built lazily on first use.
func resolveSecrets(ctx context.Context, cfg *Config) error {
	targets := []*string{
		&cfg.Auth.JWTSecret,
		&cfg.Identity.ClientSecret,
		&cfg.Identity.BotToken,
	}

	var cli *vault.Client
	for _, t := range targets {
		if !vault.IsRef(*t) {
			continue
		}
		if cli == nil {
			var err error
			if cli, err = vault.New(ctx, zap.S().Infof); err != nil {
				return err
			}
		}
		val, err := cli.Resolve(ctx, *t)
		if err != nil {
			return err
		}
		*t = val
	}
	return nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config { return current.Load() }

func Reload(ctx context.Context) error { _, err := Load(ctx); return err }
