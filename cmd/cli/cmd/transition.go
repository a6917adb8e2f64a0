package cmd

import (
	"context"
	"strconv"

	"buildstate/pkg/api"

	"github.com/spf13/cobra"
)

var transitionCmd = &cobra.Command{
	Use:   "transition [build_id] [checkpoint] [status]",
	Short: "Record a checkpoint transition",
	Long: `Append a transition to the build's ledger. Status is one of started,
completed, failed or skipped.

Example:
  buildctl transition <build-id> 30 started
  buildctl transition <build-id> 30 completed --message "bake done"
  buildctl transition <build-id> 80 completed --terminal`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		checkpoint, err := strconv.Atoi(args[1])
		if err != nil {
			cmd.Printf("Error: invalid checkpoint %q\n", args[1])
			return
		}

		flags := cmd.Flags()
		message, _ := flags.GetString("message")
		terminal, _ := flags.GetBool("terminal")

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		req := api.TransitionRequest{
			Checkpoint: &checkpoint,
			Status:     args[2],
			Terminal:   terminal,
		}
		if message != "" {
			req.Message = &message
		}

		entry, err := c.Transition(context.Background(), args[0], req)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Checkpoint %d %s", entry.Checkpoint, colorizeStatus(entry.Status))
		if entry.RetryCount > 0 {
			cmd.Printf(" (retry %d)", entry.RetryCount)
		}
		cmd.Println()
	},
}

func init() {
	transitionCmd.Flags().StringP("message", "m", "", "Message stored on the ledger entry")
	transitionCmd.Flags().Bool("terminal", false, "Complete the build on a completed transition")
	rootCmd.AddCommand(transitionCmd)
}
