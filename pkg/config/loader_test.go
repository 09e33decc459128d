package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadConfigMergesEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  host: localhost\n  port: 5432\nserver:\n  port: \":8090\"\n")
	writeFile(t, dir, "production.yaml", "db:\n  host: db.internal\n")

	cfgMap, err := LoadConfig("production", dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	var cfg struct {
		DB     DBConfig     `yaml:"db"`
		Server ServerConfig `yaml:"server"`
	}
	if err := Decode(cfgMap, &cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.DB.Host != "db.internal" {
		t.Errorf("DB.Host = %q, want db.internal", cfg.DB.Host)
	}
	if cfg.DB.Port != 5432 {
		t.Errorf("DB.Port = %d, want 5432 from base", cfg.DB.Port)
	}
	if cfg.Server.Port != ":8090" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
}

func TestLoadConfigSubstitutesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "jwt:\n  secret: ${HITO_TEST_JWT}\ndb:\n  password: ${HITO_TEST_UNSET}\n")
	writeFile(t, dir, "secrets.env", "HITO_TEST_JWT=\"from-secrets\"\n")

	cfgMap, err := LoadConfig("", dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	var cfg struct {
		JWT JWTConfig `yaml:"jwt"`
		DB  DBConfig  `yaml:"db"`
	}
	if err := Decode(cfgMap, &cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.JWT.Secret != "from-secrets" {
		t.Errorf("JWT.Secret = %q, want from-secrets", cfg.JWT.Secret)
	}
	if cfg.DB.Password != "${HITO_TEST_UNSET}" {
		t.Errorf("unresolved placeholder should be kept, got %q", cfg.DB.Password)
	}

	t.Setenv("HITO_TEST_JWT", "from-env")
	cfgMap, err = LoadConfig("", dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := Decode(cfgMap, &cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.JWT.Secret != "from-env" {
		t.Errorf("system env should win over secrets.env, got %q", cfg.JWT.Secret)
	}
}

func TestLoadConfigMissingBase(t *testing.T) {
	if _, err := LoadConfig("local", t.TempDir()); err == nil {
		t.Fatal("expected error when base.yaml is missing")
	}
}
