package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// FetchEntry — строка списка для --list.
type FetchEntry struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path,omitempty"`
}

func newFetchCmd() *cobra.Command {
	var (
		cf       clientFlags
		dir      string
		listFile string
	)
	cmd := &cobra.Command{
		Use:   "fetch [URL...]",
		Short: "Queue remote downloads into a storage",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cf.storage == "" {
				return fmt.Errorf("--storage is required")
			}
			if len(args) == 0 && listFile == "" {
				return fmt.Errorf("no URL or --list provided")
			}

			batches := map[string][]string{}
			if len(args) > 0 {
				batches[dir] = append(batches[dir], args...)
			}
			if listFile != "" {
				entries, err := readFetchList(listFile)
				if err != nil {
					return err
				}
				for _, e := range entries {
					p := e.Path
					if p == "" {
						p = dir
					}
					batches[p] = append(batches[p], e.URL)
				}
			}

			c := cf.client()
			for target, urls := range batches {
				ids, err := c.Enqueue(cmd.Context(), cf.storage, target, urls)
				if err != nil {
					return err
				}
				for i, id := range ids {
					printDetail(fmt.Sprintf("%s  %s", id, urls[i]))
				}
			}
			printSuccess("downloads queued")
			return nil
		},
	}
	cf.bind(cmd)
	cmd.Flags().StringVarP(&dir, "path", "p", "", "target directory inside the storage")
	cmd.Flags().StringVarP(&listFile, "list", "l", "", "YAML file with entries {url, path}")
	return cmd
}

func readFetchList(path string) ([]FetchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []FetchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := entries[:0]
	for _, e := range entries {
		if e.URL != "" {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no urls", path)
	}
	return out, nil
}
