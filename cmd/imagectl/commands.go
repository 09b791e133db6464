package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/image-analysis-pipeline/internal/aggregate"
	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

var errNotFound = errors.New("image not found")

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's images, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		records, err := st.ListImages(cmd.Context(), ownerFlag)
		if err != nil {
			return fmt.Errorf("list images: %w", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "IMAGE ID\tSTATUS\tCREATED\tFILE")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				rec.ImageID, rec.Status, time.Unix(rec.CreatedAt, 0).UTC().Format(time.RFC3339), rec.FileName)
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print one image record, including its results, as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		rec, err := st.GetImage(cmd.Context(), ownerFlag, imageFlag)
		if err != nil {
			return fmt.Errorf("get image: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("%s/%s: %w", ownerFlag, imageFlag, errNotFound)
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Start a new workflow execution for a pending or processing image",
	Long: `reprocess re-runs the trigger for an existing record: it marks the image
processing and starts a state machine execution with the stored object key.
Completed and failed records are terminal and cannot be re-driven.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		rec, err := st.GetImage(ctx, ownerFlag, imageFlag)
		if err != nil {
			return fmt.Errorf("get image: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("%s/%s: %w", ownerFlag, imageFlag, errNotFound)
		}
		if rec.Status.Terminal() {
			return fmt.Errorf("image is %s; only pending or processing images can be reprocessed", rec.Status)
		}

		trigger, err := openTrigger(ctx, st)
		if err != nil {
			return err
		}
		ref := analysis.ImageRef{OwnerID: rec.OwnerID, ImageID: rec.ImageID, ObjectKey: rec.ObjectKey, Bucket: bucketFlag}
		out := trigger.Start(ctx, ref)
		log.Info().Int("statusCode", out.StatusCode).Str("message", out.Message).Msg("Reprocess finished")
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if out.StatusCode >= http.StatusBadRequest {
			return errors.New(out.Message)
		}
		return nil
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <event.json|->",
	Short: "Summarize a captured aggregator input without touching AWS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		var in aggregate.Input
		if err := json.NewDecoder(r).Decode(&in); err != nil {
			return fmt.Errorf("decode aggregator input: %w", err)
		}
		out, _, err := aggregate.Preview(in)
		if out != nil {
			if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}
		}
		return err
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
