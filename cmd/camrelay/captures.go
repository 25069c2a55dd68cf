package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/camrelay/camrelay/internal/capture"
	"github.com/camrelay/camrelay/internal/capture/index"
)

func newCapturesCommand() *cobra.Command {
	capturesCmd := &cobra.Command{
		Use:           "captures",
		Short:         "Inspect stored captures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	capturesCmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List recent captures, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          capturesList,
	}
	listCmd.Flags().Int("limit", 20, "Maximum number of captures to show (0 for all)")

	showCmd := &cobra.Command{
		Use:           "show <filename>",
		Short:         "Show one capture and its on-disk path",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          capturesShow,
	}

	capturesCmd.AddCommand(listCmd, showCmd)
	return capturesCmd
}

// captureView is the CLI rendering of an index entry.
type captureView struct {
	index.Entry
	Path string `json:"path"`
}

func openIndexReadOnly(cmd *cobra.Command) (*index.Index, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	paths := cfg.Paths()
	idx, err := index.Open(index.Options{Path: paths.IndexDB, ReadOnly: true})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open capture index: %w", err)
	}
	return idx, paths.Captures, nil
}

func capturesList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonMode, _ := cmd.Flags().GetBool("json")

	idx, dir, err := openIndexReadOnly(cmd)
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	entries, err := idx.List(ctx, limit)
	if err != nil {
		return err
	}

	views := make([]captureView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, newCaptureView(dir, entry))
	}

	out := cmd.OutOrStdout()
	if jsonMode {
		return printJSON(out, views)
	}
	if len(views) == 0 {
		fmt.Fprintf(out, "No captures stored (index: %s)\n", idx.Path())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILENAME\tCAPTURED\tSIZE\tSENDER")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", v.Filename, v.CapturedAt.Local().Format(time.DateTime), v.Size, v.SenderID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nIndex: %s\n", idx.Path())
	return nil
}

func capturesShow(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !capture.ValidName(name) {
		return fmt.Errorf("invalid capture filename %q", name)
	}
	jsonMode, _ := cmd.Flags().GetBool("json")

	idx, dir, err := openIndexReadOnly(cmd)
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	entry, err := idx.Get(ctx, name)
	if err != nil {
		if index.IsNotFound(err) {
			return fmt.Errorf("capture %s is not indexed", name)
		}
		return err
	}

	v := newCaptureView(dir, entry)
	out := cmd.OutOrStdout()
	if jsonMode {
		return printJSON(out, v)
	}
	fmt.Fprintf(out, "Filename: %s\n", v.Filename)
	fmt.Fprintf(out, "Captured: %s\n", v.CapturedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Size:     %d bytes\n", v.Size)
	fmt.Fprintf(out, "Digest:   %s\n", v.Digest)
	fmt.Fprintf(out, "Sender:   %s\n", v.SenderID)
	fmt.Fprintf(out, "Path:     %s\n", v.Path)
	return nil
}

func newCaptureView(dir string, entry index.Entry) captureView {
	v := captureView{Entry: entry}
	if capture.ValidName(entry.Filename) {
		v.Path = filepath.Join(dir, entry.Filename)
	}
	return v
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
