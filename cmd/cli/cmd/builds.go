package cmd

import (
	"context"
	"fmt"
	"sort"

	"buildstate/pkg/api"
	"buildstate/pkg/client"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new build",
	Long: `Create a build record for a platform, OS version and image type.

Example:
  buildctl start --platform aws --os-version rhel9 --image-type base
  buildctl start -p aws -o rhel9 -i base --start-checkpoint 30 --description "rebuild from bake"`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		platform, _ := flags.GetString("platform")
		osVersion, _ := flags.GetString("os-version")
		imageType, _ := flags.GetString("image-type")
		owner, _ := flags.GetString("owner")
		description, _ := flags.GetString("description")
		startCheckpoint, _ := flags.GetInt("start-checkpoint")

		if platform == "" || osVersion == "" || imageType == "" {
			cmd.Println("Error: --platform, --os-version and --image-type are required")
			return
		}

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		req := api.StartBuildRequest{
			Owner:           owner,
			Platform:        platform,
			OSVersion:       osVersion,
			ImageType:       imageType,
			StartCheckpoint: startCheckpoint,
		}
		if description != "" {
			req.Description = &description
		}

		build, err := c.StartBuild(context.Background(), req)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Build started!\nID: %s\nNumber: %s\n", build.ID, build.BuildNumber)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List builds",
	Long: `List builds, newest first.

Example:
  buildctl list --status running,failed --platform aws --limit 20`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		statuses, _ := flags.GetStringSlice("status")
		platform, _ := flags.GetString("platform")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		resp, err := c.ListBuilds(context.Background(), client.ListBuildsOptions{
			Statuses: statuses,
			Platform: platform,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			printError(cmd, err)
			return
		}

		if len(resp.Builds) == 0 {
			cmd.Println("No builds found")
			return
		}

		cmd.Printf("%-36s  %-16s  %-24s  %4s  %s\n", "ID", "NUMBER", "TARGET", "CP", "STATUS")
		for _, b := range resp.Builds {
			target := fmt.Sprintf("%s/%s/%s", b.Platform, b.OSVersion, b.ImageType)
			cmd.Printf("%-36s  %-16s  %-24s  %4d  %s\n", b.ID, b.BuildNumber, target, b.CurrentCheckpoint, colorizeStatus(b.Status))
		}
		if len(resp.Builds) == resp.Limit {
			cmd.Printf("%sMore results: --offset %d%s\n", colorDim, resp.Offset+resp.Limit, colorReset)
		}
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count builds by status",
	Run: func(cmd *cobra.Command, args []string) {
		c, ok := newClient(cmd)
		if !ok {
			return
		}

		summary, err := c.Summary(context.Background())
		if err != nil {
			printError(cmd, err)
			return
		}

		statuses := make([]string, 0, len(summary.Counts))
		for s := range summary.Counts {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			cmd.Printf("%-24s %d\n", colorizeStatus(s), summary.Counts[s])
		}
		cmd.Printf("%sTotal:%s %d\n", colorBold, colorReset, summary.Total)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [build_id]",
	Short: "Cancel a build (admin)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		build, err := c.CancelBuild(context.Background(), args[0], reason)
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Build %s cancelled at checkpoint %d\n", build.BuildNumber, build.CurrentCheckpoint)
	},
}

func init() {
	flags := startCmd.Flags()
	flags.StringP("platform", "p", "", "Target platform (required)")
	flags.StringP("os-version", "o", "", "OS version (required)")
	flags.StringP("image-type", "i", "", "Image type (required)")
	flags.String("owner", "", "Owner (default: the API key's name)")
	flags.String("description", "", "Free-form description")
	flags.Int("start-checkpoint", 0, "Checkpoint the build starts at")

	listFlags := listCmd.Flags()
	listFlags.StringSlice("status", nil, "Filter by status (comma-separated)")
	listFlags.String("platform", "", "Filter by platform")
	listFlags.Int("limit", 20, "Maximum number of builds to return")
	listFlags.Int("offset", 0, "Number of builds to skip")

	cancelCmd.Flags().String("reason", "", "Why the build is cancelled")

	rootCmd.AddCommand(startCmd, listCmd, summaryCmd, cancelCmd)
}
