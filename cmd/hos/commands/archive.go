package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/astrodata/hos/internal/logger"
	"github.com/astrodata/hos/pkg/archive"
	archiveS3 "github.com/astrodata/hos/pkg/archive/s3"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Pack, unpack and ship container archives",
	Long: `Archives are zstd-compressed tar snapshots of a container. They can
be kept locally (pack/unpack) or shipped to S3-compatible object storage
(push/pull) using the archive section of the configuration.`,
}

var archivePackCmd = &cobra.Command{
	Use:   "pack <container> <archive-file>",
	Short: "Pack a container into a local archive file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("failed to create archive file: %w", err)
		}
		if err := archive.Pack(cmd.Context(), args[0], f); err != nil {
			f.Close()
			os.Remove(args[1])
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to finalize archive file: %w", err)
		}
		fmt.Printf("packed %s\n", args[1])
		return nil
	},
}

var archiveUnpackCmd = &cobra.Command{
	Use:   "unpack <archive-file> <dest-dir>",
	Short: "Restore a container from a local archive file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open archive file: %w", err)
		}
		defer f.Close()

		path, err := archive.Unpack(cmd.Context(), f, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("restored %s\n", path)
		return nil
	},
}

var archivePushCmd = &cobra.Command{
	Use:   "push <container> [name]",
	Short: "Pack a container and upload it to object storage",
	Long: `Pack the container and upload the archive to the configured S3
bucket. The archive name defaults to the container's base name with a
.tar.zst suffix.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := archiveStore(cmd)
		if err != nil {
			return err
		}

		name := filepath.Base(args[0]) + ".tar.zst"
		if len(args) == 2 {
			name = args[1]
		}

		// Pack to a temporary file first: S3 uploads want a sized,
		// rewindable body.
		tmp, err := os.CreateTemp("", "hos-archive-*.tar.zst")
		if err != nil {
			return fmt.Errorf("failed to create temporary archive: %w", err)
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()

		if err := archive.Pack(ctx, args[0], tmp); err != nil {
			return err
		}
		if _, err := tmp.Seek(0, 0); err != nil {
			return fmt.Errorf("failed to rewind archive: %w", err)
		}

		if err := store.Push(ctx, name, tmp); err != nil {
			return err
		}
		logger.Info("pushed %s as %s", args[0], name)
		fmt.Printf("pushed %s\n", name)
		return nil
	},
}

var archivePullCmd = &cobra.Command{
	Use:   "pull <name> <dest-dir>",
	Short: "Download an archive and restore the container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := archiveStore(cmd)
		if err != nil {
			return err
		}

		r, err := store.Pull(ctx, args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		path, err := archive.Unpack(ctx, r, args[1])
		if err != nil {
			return err
		}
		logger.Info("pulled %s to %s", args[0], path)
		fmt.Printf("restored %s\n", path)
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives in object storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := archiveStore(cmd)
		if err != nil {
			return err
		}
		names, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

// archiveStore builds the S3 archive store from the loaded configuration.
func archiveStore(cmd *cobra.Command) (*archiveS3.Store, error) {
	if cfg.Archive.Bucket == "" {
		return nil, fmt.Errorf("archive.bucket must be configured for this command")
	}

	client, err := archiveS3.NewClient(cmd.Context(), archiveS3.ClientConfig{
		Region:          cfg.Archive.Region,
		Endpoint:        cfg.Archive.Endpoint,
		AccessKeyID:     cfg.Archive.AccessKeyID,
		SecretAccessKey: cfg.Archive.SecretAccessKey,
		MaxRetries:      cfg.Archive.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build S3 client: %w", err)
	}

	return archiveS3.New(cmd.Context(), archiveS3.Config{
		Client:    client,
		Bucket:    cfg.Archive.Bucket,
		KeyPrefix: cfg.Archive.KeyPrefix,
	})
}

func init() {
	archiveCmd.AddCommand(archivePackCmd)
	archiveCmd.AddCommand(archiveUnpackCmd)
	archiveCmd.AddCommand(archivePushCmd)
	archiveCmd.AddCommand(archivePullCmd)
	archiveCmd.AddCommand(archiveListCmd)
	rootCmd.AddCommand(archiveCmd)
}
