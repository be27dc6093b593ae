package cli

import (
	"github.com/spf13/cobra"

	"github.com/sir_venger/drive_lite/pkg/driveclient"
)

type clientFlags struct {
	server  string
	token   string
	storage string
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", getenv("DRIVE_SERVER", "http://localhost:8080"), "drive API base URL")
	cmd.Flags().StringVar(&f.token, "token", getenv("DRIVE_TOKEN", ""), "bearer token")
	cmd.Flags().StringVarP(&f.storage, "storage", "s", getenv("DRIVE_STORAGE", ""), "storage id")
}

func (f *clientFlags) client() *driveclient.Client {
	return driveclient.New(f.server, f.token)
}
