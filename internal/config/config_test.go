package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "default config",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.RequiredConfirmations != 6 {
					t.Errorf("RequiredConfirmations = %d, want 6", cfg.RequiredConfirmations)
				}
				if cfg.BitcoinNetwork != "mainnet" {
					t.Errorf("BitcoinNetwork = %q, want mainnet", cfg.BitcoinNetwork)
				}
				if cfg.LedgerRetention != 90*24*time.Hour {
					t.Errorf("LedgerRetention = %v, want 90 days", cfg.LedgerRetention)
				}
			},
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"SERVICE_NAME":               "test-relay",
				"BITCOIN_NETWORK":            "testnet3",
				"KAFKA_BROKERS":              "k1:9092, k2:9092,,k3:9092",
				"SPV_REQUIRED_CONFIRMATIONS": "3",
				"SPV_VERIFY_TIMEOUT":         "5s",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.ServiceName != "test-relay" {
					t.Errorf("ServiceName = %q", cfg.ServiceName)
				}
				want := []string{"k1:9092", "k2:9092", "k3:9092"}
				if !reflect.DeepEqual(cfg.KafkaBrokers, want) {
					t.Errorf("KafkaBrokers = %v, want %v", cfg.KafkaBrokers, want)
				}
				if cfg.RequiredConfirmations != 3 {
					t.Errorf("RequiredConfirmations = %d, want 3", cfg.RequiredConfirmations)
				}
				if cfg.VerifyTimeout != 5*time.Second {
					t.Errorf("VerifyTimeout = %v, want 5s", cfg.VerifyTimeout)
				}
			},
		},
		{
			name:    "invalid rpc port",
			envVars: map[string]string{"BITCOIN_RPC_PORT": "99999"},
			wantErr: true,
		},
		{
			name:    "zero confirmations",
			envVars: map[string]string{"SPV_REQUIRED_CONFIRMATIONS": "0"},
			wantErr: true,
		},
		{
			name:    "unknown network",
			envVars: map[string]string{"BITCOIN_NETWORK": "litecoin"},
			wantErr: true,
		},
		{
			name:    "empty broker list",
			envVars: map[string]string{"KAFKA_BROKERS": " , "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestChainParams(t *testing.T) {
	tests := []struct {
		network string
		want    *chaincfg.Params
		wantErr bool
	}{
		{network: "mainnet", want: &chaincfg.MainNetParams},
		{network: "MAIN", want: &chaincfg.MainNetParams},
		{network: "testnet3", want: &chaincfg.TestNet3Params},
		{network: "regtest", want: &chaincfg.RegressionNetParams},
		{network: "signet", want: &chaincfg.SigNetParams},
		{network: "simnet", want: &chaincfg.SimNetParams},
		{network: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			cfg := &Config{BitcoinNetwork: tt.network}
			got, err := cfg.ChainParams()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ChainParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ChainParams() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ServiceName:           "test",
			BitcoinNetwork:        "regtest",
			BitcoinRPCPort:        18443,
			KafkaBrokers:          []string{"localhost:9092"},
			RequiredConfirmations: 1,
			VerifyTimeout:         time.Second,
			PendingMaxAge:         time.Hour,
			WorkerPoolSize:        1,
		}
	}

	if err := valid().validate(); err != nil {
		t.Errorf("validate() should not fail for valid config: %v", err)
	}

	mutations := map[string]func(*Config){
		"empty service name":   func(c *Config) { c.ServiceName = "" },
		"zero rpc port":        func(c *Config) { c.BitcoinRPCPort = 0 },
		"no brokers":           func(c *Config) { c.KafkaBrokers = nil },
		"negative confs":       func(c *Config) { c.RequiredConfirmations = -1 },
		"zero timeout":         func(c *Config) { c.VerifyTimeout = 0 },
		"negative pending":     func(c *Config) { c.PendingLimit = -1 },
		"zero pending max age": func(c *Config) { c.PendingMaxAge = 0 },
		"negative retention":   func(c *Config) { c.LedgerRetention = -time.Hour },
		"zero workers":         func(c *Config) { c.WorkerPoolSize = 0 },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate() expected error")
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "test_value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_DURATION", "30s")

	if got := getEnv("TEST_STRING", "default"); got != "test_value" {
		t.Errorf("getEnv() = %v, want %v", got, "test_value")
	}
	if got := getEnv("NONEXISTENT", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want %v", got, "default")
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want %v", got, 42)
	}
	if got := getEnvInt("TEST_BAD_INT", 99); got != 99 {
		t.Errorf("getEnvInt() with bad value = %v, want %v", got, 99)
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 30*time.Second {
		t.Errorf("getEnvDuration() = %v, want %v", got, 30*time.Second)
	}
	if got := getEnvSlice("NONEXISTENT", []string{"a"}); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("getEnvSlice() default = %v", got)
	}
}
