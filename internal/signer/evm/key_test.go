package evm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func clearKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvPrivateKey, "")
	t.Setenv(EnvPrivateKeyFile, "")
	t.Setenv(EnvKeystorePath, "")
	t.Setenv(EnvKeystorePassword, "")
	t.Setenv(EnvKeystorePasswordFile, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func loadFromEnv(t *testing.T, source, override string) (string, error) {
	t.Helper()
	cfg, err := KeyConfigFromEnv(source, override)
	if err != nil {
		return "", err
	}
	key, err := LoadKey(cfg)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func TestLoadKeyFromEnvHex(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvPrivateKey, "0x"+testPrivateKey)
	addr, err := loadFromEnv(t, KeySourceEnv, "")
	if err != nil {
		t.Fatalf("load key failed: %v", err)
	}
	want, _ := crypto.HexToECDSA(testPrivateKey)
	if addr != crypto.PubkeyToAddress(want.PublicKey).Hex() {
		t.Fatalf("unexpected address %s", addr)
	}
}

func TestLoadKeyFromFileAllowsNonStrictPermissions(t *testing.T) {
	clearKeyEnv(t)
	keyFile := filepath.Join(t.TempDir(), "key.txt")
	if err := os.WriteFile(keyFile, []byte(testPrivateKey+"\n"), 0o644); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv(EnvPrivateKeyFile, keyFile)
	if _, err := loadFromEnv(t, KeySourceFile, ""); err != nil {
		t.Fatalf("expected key file to load: %v", err)
	}
}

func TestLoadKeyAutoUsesDefaultKeyFile(t *testing.T) {
	clearKeyEnv(t)
	cfgDir := t.TempDir()
	keyDir := filepath.Join(cfgDir, "swapexec")
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(keyDir, "key.hex"), []byte(testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv("XDG_CONFIG_HOME", cfgDir)
	if _, err := loadFromEnv(t, KeySourceAuto, ""); err != nil {
		t.Fatalf("expected auto key source to use default key path: %v", err)
	}
}

func TestLoadKeyOverrideWinsOverFileSource(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvPrivateKeyFile, "/tmp/does-not-exist")
	if _, err := loadFromEnv(t, KeySourceFile, testPrivateKey); err != nil {
		t.Fatalf("expected override to win over file source: %v", err)
	}
}

func TestLoadKeyFromKeystore(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	pk, _ := crypto.HexToECDSA(testPrivateKey)
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(pk.PublicKey),
		PrivateKey: pk,
	}, "hunter2", keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	path := filepath.Join(dir, "keystore.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write keystore: %v", err)
	}
	passFile := filepath.Join(dir, "pass.txt")
	if err := os.WriteFile(passFile, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatalf("write password file: %v", err)
	}
	t.Setenv(EnvKeystorePath, path)
	t.Setenv(EnvKeystorePasswordFile, passFile)

	addr, err := loadFromEnv(t, KeySourceKeystore, "")
	if err != nil {
		t.Fatalf("load keystore failed: %v", err)
	}
	if addr != crypto.PubkeyToAddress(pk.PublicKey).Hex() {
		t.Fatalf("unexpected keystore address %s", addr)
	}
}

func TestKeyConfigRejectsUnknownSource(t *testing.T) {
	if _, err := KeyConfigFromEnv("ledger", ""); err == nil {
		t.Fatal("expected unsupported key source error")
	}
}

func TestDefaultPrivateKeyPathUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/swapexec-config-home")
	got := defaultPrivateKeyPath()
	want := "/tmp/swapexec-config-home/swapexec/key.hex"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMissingKeyErrorIncludesPathHint(t *testing.T) {
	clearKeyEnv(t)
	_, err := loadFromEnv(t, KeySourceAuto, "")
	if err == nil {
		t.Fatal("expected missing key error")
	}
	msg := err.Error()
	if !strings.Contains(msg, defaultPrivateKeyHintPath) {
		t.Fatalf("expected message to include %q, got: %s", defaultPrivateKeyHintPath, msg)
	}
	if !strings.Contains(msg, "--private-key") {
		t.Fatalf("expected message to include --private-key, got: %s", msg)
	}
}
