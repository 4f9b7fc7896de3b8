package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astrodata/hos/internal/logger"
	"github.com/astrodata/hos/pkg/hos"
)

var (
	newKind      string
	newRootName  string
	newRootType  string
	newOverwrite bool
)

var newCmd = &cobra.Command{
	Use:   "new <path>",
	Short: "Create a new container",
	Long: `Create an empty container at the given path with a single root
structure object. The file backend produces a single portable file; the
badger backend produces a directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		opts := openOptions()
		if newKind != "" {
			opts.Kind = hos.Kind(newKind)
		}
		opts.Overwrite = newOverwrite
		opts.RootName = newRootName
		opts.RootType = hos.DataType(newRootType)

		c, err := hos.Create(path, opts)
		if err != nil {
			return fmt.Errorf("failed to create container: %w", err)
		}
		defer c.Close()

		logger.Info("created %s container %s (root %s)", opts.Kind, path, newRootName)
		fmt.Printf("created %s\n", path)
		return nil
	},
}

func init() {
	newCmd.Flags().StringVar(&newKind, "kind", "", "backend kind: file, badger or memory (default from config)")
	newCmd.Flags().StringVar(&newRootName, "root-name", "DATASET", "name of the root structure object")
	newCmd.Flags().StringVar(&newRootType, "root-type", "CONTAINER", "type tag of the root structure object")
	newCmd.Flags().BoolVar(&newOverwrite, "overwrite", false, "replace an existing container at the path")
	rootCmd.AddCommand(newCmd)
}
