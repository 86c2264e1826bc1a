package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentkit/pkg/config"
	"agentkit/pkg/logx"
	"agentkit/pkg/persistence"
)

// envPassword unlocks the secrets file without a prompt.
const envPassword = "AGENTKIT_PASSWORD"

//nolint:gochecknoglobals // cobra command tree
var (
	configPath string
	modelFlag  string
	projectDir string
	dbPathFlag string
	debugFlag  bool

	logger = logx.NewLogger("agentchat")
)

//nolint:gochecknoglobals // cobra command tree
var rootCmd = &cobra.Command{
	Use:   "agentchat",
	Short: "Chat with structured LLM agents",
	Long: `agentchat runs a schema-driven chat agent against OpenAI, Anthropic,
Gemini or Ollama models.

API keys come from the encrypted secrets store (see 'agentchat secrets')
or the provider's environment variable.`,
	SilenceUsage: true,
}

func init() { //nolint:gochecknoinits // cobra wiring
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVarP(&modelFlag, "model", "m", "", "model name, overrides the config")
	flags.StringVar(&projectDir, "project-dir", ".", "directory holding "+config.SecretsDir+"/")
	flags.StringVar(&dbPathFlag, "db", "", "SQLite history database, overrides the config")
	flags.BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(chatCmd, sessionsCmd, secretsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute() //nolint:wrapcheck // printed by main
}

// loadConfig reads --config if given and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err //nolint:wrapcheck // already descriptive
		}
		cfg = loaded
	}
	if modelFlag != "" {
		cfg.Agent.Model = modelFlag
	}
	if dbPathFlag != "" {
		cfg.Persistence.DBPath = dbPathFlag
	}
	if debugFlag {
		cfg.Debug.Enabled = true
	}
	if cfg.Debug.Enabled {
		logx.SetDebug(true)
		if len(cfg.Debug.Domains) > 0 {
			logx.SetDebugDomains(cfg.Debug.Domains)
		}
	}
	return cfg, nil
}

// openStore opens the history database, or returns nil when persistence is off.
func openStore(cfg *config.Config) (*persistence.DatabaseOperations, func(), error) {
	if cfg.Persistence.DBPath == "" {
		return nil, func() {}, nil
	}
	db, err := persistence.InitializeDatabase(cfg.Persistence.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return persistence.NewDatabaseOperations(db), func() { _ = db.Close() }, nil
}

// requireStore is openStore for commands that make no sense without a database.
func requireStore(cfg *config.Config) (*persistence.DatabaseOperations, func(), error) {
	if cfg.Persistence.DBPath == "" {
		return nil, nil, errors.New("no history database configured: pass --db or set persistence.db_path")
	}
	return openStore(cfg)
}

// unlockSecrets loads the encrypted secrets file when one exists.
func unlockSecrets() error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}
	password := os.Getenv(envPassword)
	if password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			logger.Warn("Secrets file present but %s is unset and stdin is not a terminal; using environment keys", envPassword)
			return nil
		}
		var err error
		if password, err = readPassword("Secrets password: "); err != nil {
			return err
		}
	}
	if err := config.LoadSecrets(projectDir, password); err != nil {
		return fmt.Errorf("failed to unlock secrets: %w", err)
	}
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := string(data)
	clear(data)
	return password, nil
}
