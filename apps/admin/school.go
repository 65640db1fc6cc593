package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/eduro/core/fee"
)

func (cli *commandLine) expireAttemptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-attempts",
		Short: "Time out the quiz attempts that are past their deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := cli.attemptSvc.ExpireOverdue(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d attempt(s) expired\n", n)
			return nil
		},
	}
}

func (cli *commandLine) importEnrollmentsCmd() *cobra.Command {
	var classID, path string
	cmd := &cobra.Command{
		Use:   "import-enrollments",
		Short: "Enroll the students listed (username or email) in the first column of an Excel roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrap(err, "opening roster")
			}
			//goland:noinspection GoUnhandledErrorResult
			defer f.Close()

			res, err := cli.classSvc.ImportEnrollments(cmd.Context(), classID, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%d student(s) enrolled\n", res.Enrolled)
			for _, row := range res.Skipped {
				_, _ = fmt.Fprintf(out, "row %d skipped (%s): %s\n", row.Row, row.Value, row.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&classID, "class", "", "ID of the class")
	cmd.Flags().StringVar(&path, "file", "", "Path of the .xlsx roster")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (cli *commandLine) exportReceiptsCmd() *cobra.Command {
	var filter fee.Filter
	var path string
	cmd := &cobra.Command{
		Use:   "export-receipts",
		Short: "Export the fee receipts of a branch to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, status := range filter.Statuses {
				if !isReceiptStatus(status) {
					return errors.Errorf("invalid status %q", status)
				}
			}
			f, err := os.Create(path)
			if err != nil {
				return errors.Wrap(err, "creating export file")
			}
			if err = cli.feeSvc.Export(cmd.Context(), filter, f); err != nil {
				_ = f.Close()
				return err
			}
			if err = f.Close(); err != nil {
				return errors.Wrap(err, "closing export file")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "receipts exported to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.BranchID, "branch", "", "ID of the branch")
	cmd.Flags().StringSliceVar(&filter.Statuses, "status", nil, "Only export receipts with this status, repeatable")
	cmd.Flags().BoolVar(&filter.Overdue, "overdue", false, "Only export overdue receipts")
	cmd.Flags().StringVar(&path, "out", "receipts.xlsx", "Path of the .xlsx file to write")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}

func isReceiptStatus(status string) bool {
	for _, s := range fee.Statuses {
		if s == status {
			return true
		}
	}
	return false
}
