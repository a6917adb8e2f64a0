package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [build_id]",
	Short: "Show where a build can be resumed",
	Long: `Find the highest completed checkpoint at or below --target (default: the
build's current checkpoint), the resumable artifact recorded there and the
variables a worker needs to continue.

Example:
  buildctl resume <build-id>
  buildctl resume <build-id> --target 40 --require AMI_ID,SUBNET_ID`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		required, _ := flags.GetStringSlice("require")

		var target *int
		if flags.Changed("target") {
			t, _ := flags.GetInt("target")
			target = &t
		}

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		plan, err := c.PlanResume(context.Background(), args[0], target, required)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("%sResume plan for %s%s\n", colorBold, plan.Build.BuildNumber, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sResume at:%s   %d\n", colorDim, colorReset, plan.ResumeCheckpoint)
		if plan.LastFailedCheckpoint != nil {
			cmd.Printf("%sLast failed:%s %s%d%s\n", colorDim, colorReset, colorRed, *plan.LastFailedCheckpoint, colorReset)
		}

		if plan.Artifact != nil {
			cmd.Printf("%sArtifact:%s    %s %s\n", colorDim, colorReset, plan.Artifact.StorageType, plan.Artifact.StoragePath)
			if plan.Artifact.Checksum != nil {
				cmd.Printf("%sChecksum:%s    %s\n", colorDim, colorReset, *plan.Artifact.Checksum)
			}
		} else {
			cmd.Printf("%sArtifact:%s    -\n", colorDim, colorReset)
		}

		if len(plan.RequiredVariables) > 0 {
			cmd.Printf("%sVariables:%s\n", colorDim, colorReset)
			for _, v := range plan.RequiredVariables {
				cmd.Printf("  %s=%s\n", v.Key, v.Value)
			}
		}
	},
}

func init() {
	resumeCmd.Flags().Int("target", 0, "Highest checkpoint to resume from")
	resumeCmd.Flags().StringSlice("require", nil, "Variables the next stage needs (comma-separated)")
	rootCmd.AddCommand(resumeCmd)
}
