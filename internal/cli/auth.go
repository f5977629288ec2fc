// internal/cli/auth.go
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/order-archivers/harvest/internal/auth"
	"github.com/order-archivers/harvest/internal/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored shop credentials",
}

var authSetCmd = &cobra.Command{
	Use:   "set <shop>",
	Short: "Store credentials for a shop in the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := GetApp().Config.Shop(args[0]).CredentialsKey

		reader := bufio.NewReader(os.Stdin)
		fmt.Print(ui.Action("Username: "))
		username, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		fmt.Print(ui.Action("Password: "))
		password, err := reader.ReadString('\n')
		if err != nil {
			return err
		}

		creds := auth.Credentials{
			Username: strings.TrimSpace(username),
			Password: strings.TrimRight(password, "\r\n"),
		}
		if creds.Username == "" {
			return fmt.Errorf("username cannot be empty")
		}
		if err := auth.Save(key, creds); err != nil {
			return err
		}
		fmt.Println(ui.Success("Credentials stored for " + args[0]))
		return nil
	},
}

var authDeleteCmd = &cobra.Command{
	Use:   "delete <shop>",
	Short: "Remove stored credentials for a shop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := GetApp().Config.Shop(args[0]).CredentialsKey
		if err := auth.Delete(key); err != nil {
			return err
		}
		fmt.Println(ui.Success("Credentials removed for " + args[0]))
		return nil
	},
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shops with stored file-based credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := auth.List()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No file-based credentials stored (keyring entries are not listable)")
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

func init() {
	authCmd.AddCommand(authSetCmd, authDeleteCmd, authListCmd)
	rootCmd.AddCommand(authCmd)
}
