package cmd

import (
	"context"

	"buildstate/pkg/api"
	"buildstate/pkg/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var principalCmd = &cobra.Command{
	Use:   "principal",
	Short: "Manage API keys",
}

var principalCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key (requires the admin secret)",
	Long: `Create a principal and print its API key. The key is shown once.

Example:
  BUILDSTATE_ADMIN_SECRET=... buildctl principal create --name worker-1 --permission write`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		permission, _ := flags.GetString("permission")
		rateLimit, _ := flags.GetInt("rate-limit")

		secret := viper.GetString("admin_secret")
		if secret == "" {
			cmd.Println("Admin secret not found. Please set it using the --admin-secret flag or the BUILDSTATE_ADMIN_SECRET environment variable")
			return
		}
		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		c := client.New(viper.GetString("url"), "")
		p, err := c.CreatePrincipal(context.Background(), secret, api.CreatePrincipalRequest{
			Name:       name,
			Permission: permission,
			RateLimit:  rateLimit,
		})
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Principal created!\nID: %s\nName: %s\nPermission: %s\nAPI key: %s\n", p.ID, p.Name, p.Permission, p.ApiKey)
	},
}

var referenceCmd = &cobra.Command{
	Use:   "reference [kind] [name]",
	Short: "Register a platform, os_version or image_type (admin)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c, ok := newClient(cmd)
		if !ok {
			return
		}

		if err := c.RegisterReference(context.Background(), args[0], args[1]); err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Registered %s %s\n", args[0], args[1])
	},
}

func init() {
	flags := principalCreateCmd.Flags()
	flags.String("name", "", "Principal name (required)")
	flags.String("permission", "write", "Permission level: read, write or admin")
	flags.Int("rate-limit", 0, "Requests per second (0 means unlimited)")
	flags.String("admin-secret", "", "Controller admin secret")
	viper.BindPFlag("admin_secret", flags.Lookup("admin-secret"))

	principalCmd.AddCommand(principalCreateCmd)
	rootCmd.AddCommand(principalCmd, referenceCmd)
}
