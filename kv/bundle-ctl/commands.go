package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pingcap-incubator/tinybundle/kv/transaction"
	"github.com/pingcap-incubator/tinybundle/kv/transaction/bundle"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

var (
	bundleFile string
	batchMode  bool
)

// errBundleFailed makes the process exit non-zero once the response has been printed.
var errBundleFailed = errors.New("bundle failed")

func newApplyCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "apply",
		Short: "Apply a bundle read from a JSON file, or stdin with -f -",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			in := io.Reader(os.Stdin)
			if bundleFile != "-" {
				f, err := os.Open(bundleFile)
				if err != nil {
					return errors.Trace(err)
				}
				defer f.Close()
				in = f
			}
			return apply(cmd, e.coord, in, cmd.OutOrStdout(), batchMode)
		},
	}
	m.Flags().StringVarP(&bundleFile, "file", "f", "-", "bundle file")
	m.Flags().BoolVar(&batchMode, "batch", false, "submit as a non-transactional batch")
	return m
}

func apply(cmd *cobra.Command, coord *transaction.Coordinator, in io.Reader, out io.Writer, batch bool) error {
	var req bundle.BundleRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return errors.Annotate(err, "decode bundle")
	}
	var resp bundle.BundleResponse
	if batch {
		resp = coord.Batch(cmd.Context(), req)
	} else {
		resp = coord.Transaction(cmd.Context(), req)
	}
	if err := writeJSON(out, resp); err != nil {
		return err
	}
	if !resp.Success {
		return errBundleFailed
	}
	return nil
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <resourceType> <id>",
		Short: "Print the current version of a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			lookup, err := e.store.MostRecent(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !lookup.Found {
				return errors.Errorf("%s/%s not found", args[0], args[1])
			}
			return writeJSON(cmd.OutOrStdout(), lookup.Item)
		},
	}
}

func newReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <resourceType> <id>",
		Short: "Release a lock left behind by a crashed transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			report, err := e.coord.ReleaseStuckLock(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return errors.Trace(enc.Encode(v))
}
