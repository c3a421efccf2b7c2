// Package uploadctl implements the command line client for the upload server.
package uploadctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type options struct {
	server  string
	timeout time.Duration
}

// NewRootCmd builds the uploadctl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Chunked upload client",
		Long:          "Command line client to upload files to the chunked upload server and read them back",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	defaultServer := os.Getenv("UPLOAD_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8888"
	}
	rootCmd.PersistentFlags().StringVarP(&opts.server, "server", "s", defaultServer,
		"Upload server address")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute,
		"Request timeout")

	rootCmd.AddCommand(newUploadCmd(opts))
	rootCmd.AddCommand(newGetCmd(opts))
	return rootCmd
}

func newUploadCmd(opts *options) *cobra.Command {
	var (
		watch bool
		drain time.Duration
	)

	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, args[0], watch, drain)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print progress labels while uploading")
	cmd.Flags().DurationVar(&drain, "drain", 250*time.Millisecond,
		"How long to keep reading progress after the upload returns")
	return cmd
}

func runUpload(cmd *cobra.Command, opts *options, path string, watch bool, drain time.Duration) error {
	out := cmd.OutOrStdout()

	client, err := NewClient(opts.server, nil)
	if err != nil {
		return err
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	var watchDone <-chan struct{}
	stopWatch := func() {}
	if watch {
		watchCtx, watchCancel := context.WithCancel(ctx)
		stopWatch = watchCancel
		watchDone, err = client.WatchProgress(watchCtx, func(label string) {
			_, _ = fmt.Fprintf(out, "progress: %s\n", label)
		})
		if err != nil {
			watchCancel()
			return err
		}
	}

	start := time.Now()
	result, err := client.Upload(ctx, path, f)
	if watch {
		time.Sleep(drain)
		stopWatch()
		<-watchDone
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, result.Message)
	_, _ = fmt.Fprintf(out, "Id: %s\n", result.ID)
	_, _ = fmt.Fprintf(out, "Size: %s\n", humanize.Bytes(uint64(info.Size())))
	_, _ = fmt.Fprintf(out, "Duration: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func newGetCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Download a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, opts, args[0], output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this path instead of ./<name>; '-' for stdout")
	return cmd
}

func runGet(cmd *cobra.Command, opts *options, name, output string) error {
	client, err := NewClient(opts.server, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	if output == "-" {
		_, err := client.Download(ctx, name, cmd.OutOrStdout())
		return err
	}
	if output == "" {
		output = name
	}

	tmp := output + ".part"
	f, err := os.OpenFile(filepath.Clean(tmp), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}

	n, err := client.Download(ctx, name, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, output); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s) to %s\n", name, humanize.Bytes(uint64(n)), output)
	return nil
}
