package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload dataset files to the backend",
	Long: `Upload one or more local dataset files. The backend stores each file and prints the
path to pass as --train or --test to the run command.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	out := cmd.OutOrStdout()
	for _, path := range args {
		remote, err := env.api.UploadFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s -> %s\n", path, remote)
	}
	return nil
}
