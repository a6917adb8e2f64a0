package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/spf13/viper"
)

// resetViper clears viper config between tests for isolation
func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("BUILDSTATE")
	viper.AutomaticEnv()
}

// execute runs the root command with args and returns everything it printed.
func execute(t *testing.T, args ...string) string {
	t.Helper()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return stdout.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestRootCommand_DefaultURL(t *testing.T) {
	resetViper()
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	url := viper.GetString("url")
	if url != "http://localhost:6161" {
		t.Errorf("expected default url http://localhost:6161, got: %s", url)
	}
}

func TestRootCommand_EnvVarBinding(t *testing.T) {
	resetViper()

	t.Setenv("BUILDSTATE_TOKEN", "env-token-value")
	t.Setenv("BUILDSTATE_URL", "http://custom-url:8080")
	t.Setenv("BUILDSTATE_ADMIN_SECRET", "env-secret")

	if token := viper.GetString("token"); token != "env-token-value" {
		t.Errorf("expected token from env var, got: %s", token)
	}
	if url := viper.GetString("url"); url != "http://custom-url:8080" {
		t.Errorf("expected url from env var, got: %s", url)
	}
	if secret := viper.GetString("admin_secret"); secret != "env-secret" {
		t.Errorf("expected admin secret from env var, got: %s", secret)
	}
}

func TestRootCommand_ExecuteReturnsNoError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	if err != nil {
		t.Errorf("root command should execute without error: %v", err)
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"start": false, "list": false, "status": false, "transition": false,
		"resume": false, "cancel": false, "summary": false,
		"artifact": false, "failure": false, "var": false,
		"principal": false, "reference": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("expected %q subcommand to be registered with root command", name)
		}
	}
}

func TestExecute_ReturnsError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"unknown-command-xyz"})

	err := Execute()
	if err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRootCommand_CustomConfigFile(t *testing.T) {
	resetViper()

	tmpFile, err := os.CreateTemp("", "buildctl-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	tmpFile.WriteString("url: http://custom-from-config:9999\ntoken: config-token\n")
	tmpFile.Close()

	cfgFile = tmpFile.Name()
	defer func() { cfgFile = "" }()
	initConfig()

	if url := viper.GetString("url"); url != "http://custom-from-config:9999" {
		t.Errorf("expected url from config file, got: %s", url)
	}
	if token := viper.GetString("token"); token != "config-token" {
		t.Errorf("expected token from config file, got: %s", token)
	}
}
