package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, extend, and revoke the API keys of a user account.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyExtendCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		email string
		name  string
		days  int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Mint a new API key for a user. The secret is shown once and cannot be retrieved again.",
		Example: `  keygate key create --email alice@example.com --name "CI pipeline"
  keygate key create --email alice@example.com --name deploy --days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(email, name, days)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner account email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Key name, unique among the owner's live keys (required)")
	cmd.Flags().IntVar(&days, "days", 0, "Lifetime in days, 1-27000 (0 uses the configured default)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(email, name string, days int) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := resolveUser(ctx, store, email)
	if err != nil {
		return err
	}

	keySvc := newKeyService(store)
	if days == 0 {
		days = keySvc.DefaultExpiryDays()
	}
	key, secret, err := keySvc.CreateKey(ctx, user.ID, name, days)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:     %s\n", secret)
	fmt.Printf("  Name:    %s\n", key.Name)
	fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		email      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(email, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner account email (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runKeyList(email string, jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := resolveUser(ctx, store, email)
	if err != nil {
		return err
	}

	keySvc := newKeyService(store)
	keys, _, err := keySvc.ListKeys(ctx, user.ID, 0, 200)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		ID      int64  `json:"id"`
		Prefix  string `json:"prefix"`
		Name    string `json:"name"`
		State   string `json:"state"`
		Expires string `json:"expires_at"`
	}

	now := time.Now().UTC()
	rows := make([]keyRow, len(keys))
	for i := range keys {
		rows[i] = keyRow{
			ID:      keys[i].ID,
			Prefix:  keys[i].KeyPrefix,
			Name:    keys[i].Name,
			State:   string(keys[i].State(now)),
			Expires: keys[i].ExpiresAt.Format("2006-01-02"),
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys. Use 'keygate key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-14s %-24s %-10s %-12s\n", "ID", "PREFIX", "NAME", "STATE", "EXPIRES")
	fmt.Printf("%-6s %-14s %-24s %-10s %-12s\n", "--", "------", "----", "-----", "-------")
	for _, k := range rows {
		fmt.Printf("%-6d %-14s %-24s %-10s %-12s\n", k.ID, k.Prefix, k.Name, k.State, k.Expires)
	}

	return nil
}

// ---------- key extend ----------

func newKeyExtendCmd() *cobra.Command {
	var (
		email string
		days  int
	)

	cmd := &cobra.Command{
		Use:   "extend <key-id>",
		Short: "Replace a key's expiry with now + --days",
		Long:  "Set a new expiry for a key. Works on active and expired keys; revoked keys cannot be reactivated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return runKeyExtend(email, keyID, days)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner account email (required)")
	cmd.Flags().IntVar(&days, "days", 0, "New lifetime in days from now, 1-27000 (required)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("days")

	return cmd
}

func runKeyExtend(email string, keyID int64, days int) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := resolveUser(ctx, store, email)
	if err != nil {
		return err
	}

	keySvc := newKeyService(store)
	key, err := keySvc.UpdateKeyExpiry(ctx, user.ID, keyID, days)
	if err != nil {
		return fmt.Errorf("extend api key: %w", err)
	}

	fmt.Printf("Key %d (%s) now expires %s\n", key.ID, key.Name, key.ExpiresAt.Format(time.RFC3339))
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Permanently revoke an API key. Revocation is immediate, one-way, and idempotent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return runKeyRevoke(email, keyID)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner account email (required)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runKeyRevoke(email string, keyID int64) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := resolveUser(ctx, store, email)
	if err != nil {
		return err
	}

	keySvc := newKeyService(store)
	if err := keySvc.RevokeKey(ctx, user.ID, keyID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked key %d\n", keyID)
	return nil
}
