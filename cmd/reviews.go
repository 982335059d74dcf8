package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/review"
	"github.com/sells-group/karaoke-scout/internal/store"
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List, inspect, approve and reject staged schedules",
}

// -- reviews list --

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List staged schedules (pending review by default)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		url, _ := cmd.Flags().GetString("url")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ScheduleFilter{
			Status: model.ScheduleStatus(status),
			URL:    url,
			Limit:  limit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("unknown status %q", status)
		}

		items, err := review.NewGateway(st).List(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "reviews list")
		}

		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No schedules found.")
			return nil
		}

		formatScheduleList(os.Stdout, items)
		return nil
	},
}

// -- reviews show --

var reviewsShowCmd = &cobra.Command{
	Use:   "show <schedule-id>",
	Short: "Show the extracted shows of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		item, err := review.NewGateway(st).Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reviews show")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(item)
		}
		formatScheduleDetail(os.Stdout, item)
		return nil
	},
}

// -- reviews approve --

var reviewsApproveCmd = &cobra.Command{
	Use:   "approve <schedule-id>",
	Short: "Commit a schedule's shows to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		reviewer, _ := cmd.Flags().GetString("reviewer")
		editsPath, _ := cmd.Flags().GetString("edits")

		var edits *model.AggregatedResult
		if editsPath != "" {
			var err error
			if edits, err = readEdits(editsPath); err != nil {
				return err
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := review.NewGateway(st).Approve(ctx, args[0], reviewer, edits)
		if err != nil {
			return eris.Wrap(err, "reviews approve")
		}

		fmt.Fprintf(os.Stdout, "Approved %s: %d shows, %d venues, %d vendors, %d DJs committed.\n",
			res.ScheduleID, len(res.ShowIDs), len(res.VenueIDs), len(res.VendorIDs), len(res.DJIDs))
		return nil
	},
}

// -- reviews reject --

var reviewsRejectCmd = &cobra.Command{
	Use:   "reject <schedule-id>",
	Short: "Discard a schedule's extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		reviewer, _ := cmd.Flags().GetString("reviewer")
		reason, _ := cmd.Flags().GetString("reason")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := review.NewGateway(st).Reject(ctx, args[0], reviewer, reason); err != nil {
			return eris.Wrap(err, "reviews reject")
		}

		fmt.Fprintf(os.Stdout, "Rejected %s.\n", args[0])
		return nil
	},
}

func init() {
	reviewsListCmd.Flags().String("status", string(model.StatusPendingReview), "filter by status (pending, parsing, pending_review, approved, rejected, failed); empty for all")
	reviewsListCmd.Flags().String("url", "", "filter by seed URL")
	reviewsListCmd.Flags().Int("limit", 50, "max number of schedules to display")

	reviewsShowCmd.Flags().Bool("json", false, "print the full record as JSON")

	reviewsApproveCmd.Flags().String("reviewer", "", "who is approving (required)")
	reviewsApproveCmd.Flags().String("edits", "", "JSON file with a corrected result to commit instead of the extraction")
	_ = reviewsApproveCmd.MarkFlagRequired("reviewer")

	reviewsRejectCmd.Flags().String("reviewer", "", "who is rejecting (required)")
	reviewsRejectCmd.Flags().String("reason", "", "why the extraction is rejected")
	_ = reviewsRejectCmd.MarkFlagRequired("reviewer")

	reviewsCmd.AddCommand(reviewsListCmd)
	reviewsCmd.AddCommand(reviewsShowCmd)
	reviewsCmd.AddCommand(reviewsApproveCmd)
	reviewsCmd.AddCommand(reviewsRejectCmd)
	rootCmd.AddCommand(reviewsCmd)
}

func readEdits(path string) (*model.AggregatedResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read edits")
	}
	var edits model.AggregatedResult
	if err := json.Unmarshal(data, &edits); err != nil {
		return nil, eris.Wrap(err, "parse edits")
	}
	return &edits, nil
}

// formatScheduleList writes one row per schedule to w.
func formatScheduleList(w io.Writer, items []review.Item) {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		shows := 0
		if it.AIAnalysis != nil {
			shows = len(it.AIAnalysis.Shows)
		}
		units, failed := "", ""
		if it.RawData != nil {
			units = strconv.Itoa(it.RawData.UnitsFound)
			failed = strconv.Itoa(it.RawData.UnitsFailed)
		}
		rows = append(rows, []string{
			truncateID(it.ID),
			truncate(it.URL, 40),
			string(it.Status),
			string(it.Outcome),
			strconv.Itoa(shows),
			units,
			failed,
			it.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"ID", "URL", "STATUS", "OUTCOME", "SHOWS", "UNITS", "FAILED", "CREATED"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
}

// formatScheduleDetail writes a schedule header and its shows to w.
func formatScheduleDetail(w io.Writer, it *review.Item) {
	_, _ = fmt.Fprintf(w, "ID:       %s\n", it.ID)
	_, _ = fmt.Fprintf(w, "URL:      %s\n", it.URL)
	_, _ = fmt.Fprintf(w, "Status:   %s (%s)\n", it.Status, it.Outcome)
	if it.PreviousID != "" {
		_, _ = fmt.Fprintf(w, "Previous: %s\n", it.PreviousID)
	}
	if it.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:    %s\n", it.Error)
	}
	if it.RejectReason != "" {
		_, _ = fmt.Fprintf(w, "Reason:   %s\n", it.RejectReason)
	}
	if it.RawData != nil {
		r := it.RawData
		_, _ = fmt.Fprintf(w, "Units:    %d found, %d failed", r.UnitsFound, r.UnitsFailed)
		if r.Truncated {
			_, _ = fmt.Fprint(w, ", truncated")
		}
		if r.Cancelled {
			_, _ = fmt.Fprint(w, ", cancelled")
		}
		_, _ = fmt.Fprintf(w, "\nCost:     $%.4f (%d in / %d out tokens)\n", r.Usage.Cost, r.Usage.InputTokens, r.Usage.OutputTokens)
	}

	a := it.AIAnalysis
	if a == nil || len(a.Shows) == 0 {
		_, _ = fmt.Fprintln(w, "\nNo shows found.")
		return
	}

	names := make(map[string]string, len(a.Vendors)+len(a.DJs))
	for _, v := range a.Vendors {
		names[v.Key] = v.Name
	}
	for _, dj := range a.DJs {
		names[dj.Key] = dj.Name
	}
	lookup := func(key *string) string {
		if key == nil {
			return ""
		}
		return names[*key]
	}

	rows := make([][]string, 0, len(a.Shows))
	for _, s := range a.Shows {
		when := s.StartTime
		if s.EndTime != "" {
			when += "-" + s.EndTime
		}
		rows = append(rows, []string{
			s.Venue,
			joinPlace(s.City, s.State),
			s.Day,
			when,
			lookup(s.VendorKey),
			lookup(s.DJKey),
			strconv.FormatFloat(s.Confidence, 'f', 2, 64),
			truncate(s.Source, 40),
		})
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"VENUE", "PLACE", "DAY", "TIME", "VENDOR", "DJ", "CONF", "SOURCE"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func joinPlace(city, state string) string {
	switch {
	case city == "":
		return state
	case state == "":
		return city
	default:
		return city + ", " + state
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
