package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rendis/nodeflow/pkg/schema"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage stored credentials",
	Long: `Manage provider API keys and bot tokens used by workflow nodes.

Values are encrypted with the configured encryption key before they are
stored and are never printed back.`,
}

var (
	credName    string
	credType    string
	credUser    string
	credFromEnv string
)

var credentialAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a credential",
	Long: `Add a credential. The value is read from a hidden prompt, or from the
environment variable named by --from-env.

Examples:
  nodeflow credential add --name openai --type OPENAI
  nodeflow credential add --name bot --type TELEGRAM_BOT --from-env BOT_TOKEN`,
	Args: cobra.NoArgs,
	RunE: runCredentialAdd,
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials (metadata only)",
	Args:  cobra.NoArgs,
	RunE:  runCredentialList,
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.DeleteCredential(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted credential %s\n", args[0])
		return nil
	},
}

func init() {
	f := credentialAddCmd.Flags()
	f.StringVar(&credName, "name", "", "credential name (required)")
	f.StringVar(&credType, "type", "", "OPENAI, ANTHROPIC, GEMINI or TELEGRAM_BOT (required)")
	f.StringVar(&credUser, "user", "", "owning user id")
	f.StringVar(&credFromEnv, "from-env", "", "read the value from this environment variable")
	credentialAddCmd.MarkFlagRequired("name")
	credentialAddCmd.MarkFlagRequired("type")

	credentialListCmd.Flags().StringVar(&credUser, "user", "", "only list credentials of this user")

	credentialCmd.AddCommand(credentialAddCmd)
	credentialCmd.AddCommand(credentialListCmd)
	credentialCmd.AddCommand(credentialDeleteCmd)
}

func parseCredentialType(s string) (schema.CredentialType, error) {
	t := schema.CredentialType(strings.ToUpper(s))
	switch t {
	case schema.CredentialOpenAI, schema.CredentialAnthropic, schema.CredentialGemini, schema.CredentialTelegramBot:
		return t, nil
	}
	return "", fmt.Errorf("unknown credential type %q", s)
}

func runCredentialAdd(cmd *cobra.Command, _ []string) error {
	typ, err := parseCredentialType(credType)
	if err != nil {
		return err
	}

	var value string
	if credFromEnv != "" {
		value = os.Getenv(credFromEnv)
		if value == "" {
			return fmt.Errorf("environment variable %s is empty or not set", credFromEnv)
		}
	} else {
		fmt.Fprint(cmd.OutOrStderr(), "Enter credential value (input hidden): ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(cmd.OutOrStderr())
		if err != nil {
			return fmt.Errorf("read credential value: %w", err)
		}
		value = string(raw)
	}

	ctx := cmd.Context()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	vault, err := openVault(cfg, s)
	if err != nil {
		return err
	}
	if vault == nil {
		return errors.New("no encryption key configured (set NODEFLOW_ENCRYPTION_KEY)")
	}

	cred := &schema.Credential{ID: uuid.NewString(), Name: credName, Type: typ, UserID: credUser}
	if err := vault.Seal(ctx, cred, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added credential %s (%s)\n", cred.ID, cred.Type)
	return nil
}

func runCredentialList(cmd *cobra.Command, _ []string) error {
	s, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	creds, err := s.ListCredentials(cmd.Context(), credUser)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tUSER\tCREATED")
	for _, c := range creds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Type, c.UserID, c.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
