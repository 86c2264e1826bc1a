package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentkit/pkg/config"
)

//nolint:gochecknoglobals // cobra command tree
var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted API key store",
	Long: `Manage API keys stored in ` + config.SecretsDir + `/secrets.json.enc under --project-dir.

The file is encrypted with AES-256-GCM using a key derived from your
password. Set AGENTKIT_PASSWORD to skip the prompt.`,
}

//nolint:gochecknoglobals // cobra command tree
var secretsSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Store a secret, e.g. OPENAI_API_KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := secretsPassword(!config.SecretsFileExists(projectDir))
		if err != nil {
			return err
		}
		if config.SecretsFileExists(projectDir) {
			if err := config.LoadSecrets(projectDir, password); err != nil {
				return fmt.Errorf("failed to unlock secrets: %w", err)
			}
		}

		value, err := readPassword(fmt.Sprintf("Value for %s: ", args[0]))
		if err != nil {
			return err
		}
		if value == "" {
			return errors.New("empty secret value")
		}
		config.SetSecret(args[0], value)

		if err := config.SaveSecretsToFile(projectDir, password); err != nil {
			return fmt.Errorf("failed to save secrets: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s in %s\n", args[0], config.SecretsFilePath(projectDir))
		return nil
	},
}

//nolint:gochecknoglobals // cobra command tree
var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !config.SecretsFileExists(projectDir) {
			fmt.Fprintln(cmd.OutOrStdout(), "no secrets file")
			return nil
		}
		password, err := secretsPassword(false)
		if err != nil {
			return err
		}
		if err := config.LoadSecrets(projectDir, password); err != nil {
			return fmt.Errorf("failed to unlock secrets: %w", err)
		}
		for _, name := range config.SecretNames() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // cobra wiring
	secretsCmd.AddCommand(secretsSetCmd, secretsListCmd)
}

// secretsPassword returns AGENTKIT_PASSWORD or prompts; a new file asks twice.
func secretsPassword(confirm bool) (string, error) {
	if password := os.Getenv(envPassword); password != "" {
		return password, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("stdin is not a terminal; set %s", envPassword)
	}
	password, err := readPassword("Secrets password: ")
	if err != nil {
		return "", err
	}
	if !confirm {
		return password, nil
	}
	again, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if again != password {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}
