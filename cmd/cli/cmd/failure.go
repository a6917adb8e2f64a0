package cmd

import (
	"context"
	"strconv"

	"buildstate/pkg/api"

	"github.com/spf13/cobra"
)

var failureCmd = &cobra.Command{
	Use:   "failure",
	Short: "Record, list and resolve build failures",
}

var failureRecordCmd = &cobra.Command{
	Use:   "record [build_id]",
	Short: "Record a failed attempt at a checkpoint",
	Long: `Record a structured failure. This does not change the build's status;
report a failed transition for that.

Example:
  buildctl failure record <build-id> --checkpoint 40 --category network --message "mirror timeout"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		checkpoint, _ := flags.GetInt("checkpoint")
		category, _ := flags.GetString("category")
		message, _ := flags.GetString("message")
		component, _ := flags.GetString("component")
		retry, _ := flags.GetInt("retry")

		if !flags.Changed("checkpoint") || category == "" || message == "" {
			cmd.Println("Error: --checkpoint, --category and --message are required")
			return
		}

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		req := api.RecordFailureRequest{
			Checkpoint:   checkpoint,
			Category:     category,
			Message:      message,
			RetryAttempt: retry,
		}
		if component != "" {
			req.Component = &component
		}

		f, err := c.RecordFailure(context.Background(), args[0], req)
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Failure recorded!\nID: %s\n", f.ID)
	},
}

var failureListCmd = &cobra.Command{
	Use:   "list [build_id]",
	Short: "List a build's failures",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		unresolved, _ := cmd.Flags().GetBool("unresolved")

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		failures, err := c.ListFailures(context.Background(), args[0], unresolved)
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(failures) == 0 {
			cmd.Println("No failures found")
			return
		}

		cmd.Printf("%-36s  %4s  %-10s  %-5s  %s\n", "ID", "CP", "CATEGORY", "RETRY", "MESSAGE")
		for _, f := range failures {
			state := colorRed + "open" + colorReset
			if f.Resolved {
				state = colorGreen + "resolved" + colorReset
			}
			cmd.Printf("%-36s  %4d  %-10s  %-5s  %s [%s]\n",
				f.ID, f.Checkpoint, f.Category, strconv.Itoa(f.RetryAttempt), f.Message, state)
		}
	},
}

var failureResolveCmd = &cobra.Command{
	Use:   "resolve [failure_id]",
	Short: "Mark a failure as resolved",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		note, _ := cmd.Flags().GetString("note")

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		f, err := c.ResolveFailure(context.Background(), args[0], note)
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Failure %s resolved\n", f.ID)
	},
}

func init() {
	flags := failureRecordCmd.Flags()
	flags.Int("checkpoint", 0, "Checkpoint that failed (required)")
	flags.String("category", "", "Failure category (required)")
	flags.String("message", "", "What went wrong (required)")
	flags.String("component", "", "Component that failed")
	flags.Int("retry", 0, "Retry attempt number")

	failureListCmd.Flags().Bool("unresolved", false, "Only unresolved failures")
	failureResolveCmd.Flags().String("note", "", "Resolution note")

	failureCmd.AddCommand(failureRecordCmd, failureListCmd, failureResolveCmd)
	rootCmd.AddCommand(failureCmd)
}
