package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sir_venger/drive_lite/pkg/driveclient"
)

func newUploadCmd() *cobra.Command {
	var (
		cf        clientFlags
		dir       string
		name      string
		chunkSize int64
		resume    string
	)
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a local file in chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cf.storage == "" && resume == "" {
				return fmt.Errorf("--storage is required")
			}
			c := cf.client()
			if term.IsTerminal(int(os.Stdout.Fd())) {
				c.Progress = os.Stdout
			}

			res, err := c.UploadFile(cmd.Context(), args[0], driveclient.UploadOptions{
				StorageID: cf.storage,
				Dir:       dir,
				Name:      name,
				ChunkSize: chunkSize,
				SessionID: resume,
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("stored as %s (%s)", res.Path, driveclient.HumanBytes(res.File.Size)))
			return nil
		},
	}
	cf.bind(cmd)
	cmd.Flags().StringVarP(&dir, "path", "p", "", "target directory inside the storage")
	cmd.Flags().StringVar(&name, "name", "", "file name on the server")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", 0, "preferred chunk size in bytes")
	cmd.Flags().StringVar(&resume, "resume", "", "continue an existing upload session")
	return cmd
}
