package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin console helpers",
		Long:  "Helpers for the admin API, whose credentials come from KEYGATE_ADMIN_USERNAME and KEYGATE_ADMIN_PASSWORD.",
	}

	cmd.AddCommand(newAdminSessionCmd())

	return cmd
}

// ---------- admin session ----------

func newAdminSessionCmd() *cobra.Command {
	var (
		username string
		password string
	)

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue an admin session token for scripted access",
		Long: `Check the admin credentials and print a signed session token. Send it as the
session cookie to call the admin API from scripts.`,
		Example: `  keygate admin session --username admin   # prompts for password
  curl -b "$(keygate admin session --username admin --cookie)" http://localhost:4141/admin/api-keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cookie, _ := cmd.Flags().GetBool("cookie")
			return runAdminSession(username, password, cookie)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Admin username (default: configured username)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (prompted if omitted)")
	cmd.Flags().Bool("cookie", false, "Print as a name=value cookie")

	return cmd
}

func runAdminSession(username, password string, cookie bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	signer := service.NewSessionSigner(cfg.Admin.Username, cfg.Admin.Password)
	if !signer.Configured() {
		return fmt.Errorf("admin credentials are not configured")
	}
	if username == "" {
		username = cfg.Admin.Username
	}

	// Prompt for password if not provided
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		password = string(pwBytes)
	}

	if !signer.Login(username, password) {
		return fmt.Errorf("invalid username or password")
	}

	token := signer.Issue(username)
	if cookie {
		fmt.Printf("%s=%s\n", middleware.SessionCookieName, token)
	} else {
		fmt.Println(token)
	}
	fmt.Fprintf(os.Stderr, "Valid until %s\n", time.Now().Add(service.SessionTTL).Format(time.RFC3339))
	return nil
}
