package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/credentials"
)

var (
	connectCalDAVURL    string
	connectUsername     string
	connectCalendarPath string
	connectRedirectURL  string
)

var connectCmd = &cobra.Command{
	Use:   "connect <provider> <account>",
	Short: "Connect an external calendar account",
	Long: `Connect an external calendar account so its busy times count against
every resource linked to it.

Supported providers:
  google     - Google Calendar (OAuth2)
  microsoft  - Microsoft Outlook/365 (OAuth2)
  caldav     - Generic CalDAV (iCloud, Fastmail, Nextcloud, etc.)

ICS feeds need no credentials; link them with 'resource add --calendar ics:<url>'.

Examples:
  panda-availability auth connect google crew17@example.com
  panda-availability auth connect caldav crew22 --url https://caldav.icloud.com --username crew22@icloud.com`,
	Args: cobra.ExactArgs(2),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&connectCalDAVURL, "url", "", "CalDAV server URL (required for caldav provider)")
	connectCmd.Flags().StringVar(&connectUsername, "username", "", "CalDAV login, defaults to the account")
	connectCmd.Flags().StringVar(&connectCalendarPath, "calendar-path", "", "CalDAV calendar path, discovered when empty")
	connectCmd.Flags().StringVar(&connectRedirectURL, "redirect-url", "http://localhost", "OAuth redirect URL registered for the client")
}

func runConnect(cmd *cobra.Command, args []string) error {
	identity, err := domain.ParseExternalIdentity(args[0] + ":" + args[1])
	if err != nil {
		return err
	}
	svc, err := credentialService()
	if err != nil {
		return err
	}

	switch identity.Provider {
	case domain.ProviderGoogle, domain.ProviderMicrosoft:
		return connectOAuth(cmd, svc, identity)
	case domain.ProviderCalDAV:
		if connectCalDAVURL == "" {
			return errors.New("--url is required for caldav provider")
		}
		return connectCalDAV(cmd, svc, identity)
	default:
		return fmt.Errorf("%s needs no credentials", identity.Provider.DisplayName())
	}
}

func connectOAuth(cmd *cobra.Command, svc *credentials.Service, identity domain.ExternalIdentity) error {
	state := uuid.New().String()
	authURL, err := svc.AuthCodeURL(identity.Provider, state, connectRedirectURL)
	if err != nil {
		return fmt.Errorf("%s OAuth not configured: %w", identity.Provider.DisplayName(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authorize %s for %s by visiting:\n%s\n", identity.Provider.DisplayName(), identity.Account, authURL)
	fmt.Fprintf(out, "\nState: %s\n", state)
	fmt.Fprint(out, "\nEnter the authorization code: ")

	code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("authorization code is required")
	}

	if err := svc.Exchange(cmd.Context(), identity, code, connectRedirectURL); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConnected %s\n", identity)
	return nil
}

func connectCalDAV(cmd *cobra.Command, svc *credentials.Service, identity domain.ExternalIdentity) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connecting to CalDAV server: %s\n", connectCalDAVURL)

	password, err := promptPassword(cmd)
	if err != nil {
		return err
	}
	username := connectUsername
	if username == "" {
		username = identity.Account
	}

	err = svc.StoreBasicAuth(cmd.Context(), identity, credentials.BasicAuth{
		ServerURL:    connectCalDAVURL,
		Username:     username,
		Password:     password,
		CalendarPath: connectCalendarPath,
	})
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	fmt.Fprintf(out, "Connected %s\n", identity)
	return nil
}

// promptPassword reads without echo from a terminal and reads a plain line
// otherwise, so passwords can be piped in.
func promptPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if len(b) == 0 {
			return "", errors.New("password is required")
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
