package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astrodata/hos/internal/logger"
	"github.com/astrodata/hos/pkg/hos"
)

var (
	copyObject string
	copyAs     string
)

var copyCmd = &cobra.Command{
	Use:   "copy <source-container> <dest-container>",
	Short: "Copy an object tree between containers",
	Long: `Deep-copy an object and all of its descendants from one container
into the root of another. By default the source root's entire content is
copied; --object selects a dotted path below the source root instead.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := hos.Open(args[0], hos.AccessRead, openOptions())
		if err != nil {
			return fmt.Errorf("failed to open source container: %w", err)
		}
		defer src.Close()

		dst, err := hos.Open(args[1], hos.AccessUpdate, openOptions())
		if err != nil {
			return fmt.Errorf("failed to open destination container: %w", err)
		}
		defer dst.Close()

		srcRoot, err := src.Root()
		if err != nil {
			return err
		}
		defer srcRoot.Annul()

		from := srcRoot
		if copyObject != "" {
			from, err = srcRoot.Find(copyObject)
			if err != nil {
				return fmt.Errorf("failed to resolve source object: %w", err)
			}
			defer from.Annul()
		}

		name := copyAs
		if name == "" {
			name, err = from.Name()
			if err != nil {
				return err
			}
		}

		dstRoot, err := dst.Root()
		if err != nil {
			return err
		}
		defer dstRoot.Annul()

		copied, err := from.CopyTo(dstRoot, name)
		if err != nil {
			return fmt.Errorf("failed to copy object: %w", err)
		}
		copied.Annul()

		if err := dst.Flush(); err != nil {
			return fmt.Errorf("failed to flush destination: %w", err)
		}

		logger.Info("copied %s:%s to %s as %s", args[0], copyObject, args[1], name)
		fmt.Printf("copied %s\n", name)
		return nil
	},
}

func init() {
	copyCmd.Flags().StringVar(&copyObject, "object", "", "dotted path of the object to copy (default: whole root)")
	copyCmd.Flags().StringVar(&copyAs, "as", "", "component name in the destination (default: source name)")
	rootCmd.AddCommand(copyCmd)
}
