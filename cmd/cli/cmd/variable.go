package cmd

import (
	"context"

	"buildstate/pkg/api"

	"github.com/spf13/cobra"
)

var variableCmd = &cobra.Command{
	Use:     "var",
	Aliases: []string{"variable"},
	Short:   "Manage a build's resume variables",
}

var variableSetCmd = &cobra.Command{
	Use:   "set [build_id] [key] [value]",
	Short: "Set a variable",
	Long: `Set a key in the build's resume context. Sensitive values are masked in
every listing.

Example:
  buildctl var set <build-id> AMI_ID ami-0abc --required
  buildctl var set <build-id> SIGNING_KEY s3cr3t --sensitive`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		varType, _ := flags.GetString("type")
		required, _ := flags.GetBool("required")
		sensitive, _ := flags.GetBool("sensitive")

		req := api.SetVariableRequest{
			Value:             args[2],
			Type:              varType,
			RequiredForResume: required,
			Sensitive:         sensitive,
		}
		if flags.Changed("checkpoint") {
			cp, _ := flags.GetInt("checkpoint")
			req.Checkpoint = &cp
		}

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		v, err := c.SetVariable(context.Background(), args[0], args[1], req)
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ %s=%s\n", v.Key, v.Value)
	},
}

var variableGetCmd = &cobra.Command{
	Use:   "get [build_id] [key]",
	Short: "Print a variable's raw value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c, ok := newClient(cmd)
		if !ok {
			return
		}

		v, err := c.GetVariable(context.Background(), args[0], args[1])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Println(v.Value)
	},
}

var variableListCmd = &cobra.Command{
	Use:   "list [build_id]",
	Short: "List variables (sensitive values masked)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		required, _ := cmd.Flags().GetBool("required")

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		vars, err := c.ListVariables(context.Background(), args[0], required)
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(vars) == 0 {
			cmd.Println("No variables found")
			return
		}
		for _, v := range vars {
			marker := ""
			if v.RequiredForResume {
				marker = colorDim + " (required)" + colorReset
			}
			cmd.Printf("%s=%s%s\n", v.Key, v.Value, marker)
		}
	},
}

func init() {
	flags := variableSetCmd.Flags()
	flags.String("type", "", "Value type: string, int, bool, json or secret_ref (default: string)")
	flags.Bool("required", false, "Required to resume the build")
	flags.Bool("sensitive", false, "Mask the value in listings")
	flags.Int("checkpoint", 0, "Checkpoint at which the variable was set")

	variableListCmd.Flags().Bool("required", false, "Only variables required for resume")

	variableCmd.AddCommand(variableSetCmd, variableGetCmd, variableListCmd)
	rootCmd.AddCommand(variableCmd)
}
