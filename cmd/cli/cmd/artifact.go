package cmd

import (
	"context"

	"buildstate/pkg/api"
	"buildstate/pkg/client"

	"github.com/spf13/cobra"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Register and list build artifacts",
}

var artifactRegisterCmd = &cobra.Command{
	Use:   "register [build_id]",
	Short: "Record where a checkpoint's output lives",
	Long: `Register an artifact for a checkpoint. The artifact itself is not fetched;
consumers verify the checksum when they retrieve it.

Example:
  buildctl artifact register <build-id> --checkpoint 30 --storage s3 \
    --path s3://images/42/disk.raw --checksum sha256:ab12... --size 1073741824 --resumable`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		checkpoint, _ := flags.GetInt("checkpoint")
		storageType, _ := flags.GetString("storage")
		path, _ := flags.GetString("path")
		name, _ := flags.GetString("name")
		checksum, _ := flags.GetString("checksum")
		size, _ := flags.GetInt64("size")
		resumable, _ := flags.GetBool("resumable")
		final, _ := flags.GetBool("final")

		if !flags.Changed("checkpoint") || path == "" {
			cmd.Println("Error: --checkpoint and --path are required")
			return
		}

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		req := api.RegisterArtifactRequest{
			Checkpoint:  checkpoint,
			StorageType: storageType,
			StoragePath: path,
			Resumable:   resumable,
			Final:       final,
		}
		if name != "" {
			req.Name = &name
		}
		if checksum != "" {
			req.Checksum = &checksum
		}
		if flags.Changed("size") {
			req.SizeBytes = &size
		}

		a, err := c.RegisterArtifact(context.Background(), args[0], req)
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Artifact registered!\nID: %s\nCheckpoint: %d\n", a.ID, a.Checkpoint)
	},
}

var artifactListCmd = &cobra.Command{
	Use:   "list [build_id]",
	Short: "List a build's artifacts",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		var opts client.ListArtifactsOptions
		if flags.Changed("checkpoint") {
			cp, _ := flags.GetInt("checkpoint")
			opts.Checkpoint = &cp
		}
		if flags.Changed("resumable") {
			v, _ := flags.GetBool("resumable")
			opts.Resumable = &v
		}

		c, ok := newClient(cmd)
		if !ok {
			return
		}

		artifacts, err := c.ListArtifacts(context.Background(), args[0], opts)
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(artifacts) == 0 {
			cmd.Println("No artifacts found")
			return
		}

		for _, a := range artifacts {
			flagsText := ""
			if a.Resumable {
				flagsText += " resumable"
			}
			if a.Final {
				flagsText += " final"
			}
			cmd.Printf("%3d  %-6s %s%s%s%s\n", a.Checkpoint, a.StorageType, a.StoragePath, colorDim, flagsText, colorReset)
		}
	},
}

func init() {
	flags := artifactRegisterCmd.Flags()
	flags.Int("checkpoint", 0, "Checkpoint that produced the artifact (required)")
	flags.String("storage", "file", "Storage type (file, nfs, http, s3, ceph)")
	flags.String("path", "", "Storage path or URL (required)")
	flags.String("name", "", "Artifact name")
	flags.String("checksum", "", "Checksum as algorithm:hex (bare hex means sha256)")
	flags.Int64("size", 0, "Size in bytes")
	flags.Bool("resumable", false, "A build can resume from this artifact")
	flags.Bool("final", false, "This is the build's final output")

	artifactListCmd.Flags().Int("checkpoint", 0, "Only artifacts at this checkpoint")
	artifactListCmd.Flags().Bool("resumable", false, "Filter on the resumable flag")

	artifactCmd.AddCommand(artifactRegisterCmd, artifactListCmd)
	rootCmd.AddCommand(artifactCmd)
}
