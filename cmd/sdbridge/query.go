package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/correlator-io/sdbridge/internal/bridge"
	"github.com/correlator-io/sdbridge/internal/config"
	"github.com/correlator-io/sdbridge/internal/detection"
	"github.com/correlator-io/sdbridge/internal/stage"
)

var (
	errMissingStage      = errors.New("--stage is required")
	errInvalidHypothesis = errors.New("hypothesis id must be DETECTION_ID/ID")
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run bridge queries against the configured database and print JSON",
	}

	cmd.AddCommand(
		newQueryDetectionsCmd(),
		newQueryStationsCmd(),
		&cobra.Command{
			Use:   "hypotheses DETECTION_ID/ID...",
			Short: "Find hypotheses by id",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseHypothesisIDs(args)
				if err != nil {
					return err
				}

				return withRuntime(func(rt *runtime) error {
					hyps, err := rt.repo.FindHypothesesByIDs(cmd.Context(), ids)
					if err != nil {
						return err
					}

					return printJSON(cmd.OutOrStdout(), hyps)
				})
			},
		},
		&cobra.Command{
			Use:   "filters DETECTION_ID/ID...",
			Short: "Find the filter definitions used by hypotheses",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseHypothesisIDs(args)
				if err != nil {
					return err
				}

				return withRuntime(func(rt *runtime) error {
					result, err := rt.repo.FindFilterRecordsForHypotheses(cmd.Context(), ids)
					if err != nil {
						return err
					}

					return printJSON(cmd.OutOrStdout(), filterOutput(ids, result))
				})
			},
		},
	)

	return cmd
}

func newQueryDetectionsCmd() *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "detections ID...",
		Short: "Find signal detections by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stageName == "" {
				return errMissingStage
			}

			ids, err := parseUUIDs(args)
			if err != nil {
				return err
			}

			return withRuntime(func(rt *runtime) error {
				dets, err := rt.repo.FindByIDs(cmd.Context(), ids, stage.New(stageName))
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), dets)
			})
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "", "stage the detections are viewed from")

	return cmd
}

func newQueryStationsCmd() *cobra.Command {
	var (
		stageName  string
		start, end string
		excluded   []string
	)

	cmd := &cobra.Command{
		Use:   "stations STATION...",
		Short: "Find signal detections at stations within a time window",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stageName == "" {
				return errMissingStage
			}

			startTime, err := time.Parse(time.RFC3339Nano, start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}

			endTime, err := time.Parse(time.RFC3339Nano, end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			excludedIDs, err := parseUUIDs(excluded)
			if err != nil {
				return err
			}

			return withRuntime(func(rt *runtime) error {
				dets, err := rt.repo.FindByStationsAndTime(
					cmd.Context(), args, startTime, endTime, stage.New(stageName), excludedIDs,
				)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), dets)
			})
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "", "stage the detections are viewed from")
	cmd.Flags().StringVar(&start, "start", "", "window start, RFC 3339")
	cmd.Flags().StringVar(&end, "end", "", "window end, RFC 3339")
	cmd.Flags().StringSliceVar(&excluded, "exclude", nil, "detection ids to leave out")

	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

// withRuntime runs fn against a freshly wired bridge. Query commands log at warn and above
// so stdout stays parseable.
func withRuntime(fn func(*runtime) error) error {
	rt, err := newRuntime(newLogger(config.GetEnvLogLevel("LOG_LEVEL", slog.LevelWarn)))
	if err != nil {
		return err
	}

	defer func() {
		_ = rt.Close()
	}()

	return fn(rt)
}

func parseUUIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))

	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", arg, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func parseHypothesisIDs(args []string) ([]detection.HypothesisID, error) {
	ids := make([]detection.HypothesisID, 0, len(args))

	for _, arg := range args {
		id, err := parseHypothesisID(arg)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func parseHypothesisID(s string) (detection.HypothesisID, error) {
	detectionPart, idPart, ok := strings.Cut(s, "/")
	if !ok {
		return detection.HypothesisID{}, fmt.Errorf("%w: %q", errInvalidHypothesis, s)
	}

	detectionID, err := uuid.Parse(detectionPart)
	if err != nil {
		return detection.HypothesisID{}, fmt.Errorf("%w: %q: %w", errInvalidHypothesis, s, err)
	}

	id, err := uuid.Parse(idPart)
	if err != nil {
		return detection.HypothesisID{}, fmt.Errorf("%w: %q: %w", errInvalidHypothesis, s, err)
	}

	return detection.HypothesisID{DetectionID: detectionID, ID: id}, nil
}

type (
	filterEntry struct {
		Hypothesis detection.HypothesisID          `json:"hypothesis"`
		Filters    map[detection.FilterUsage]int64 `json:"filters"`
	}

	filterReport struct {
		Filters []filterEntry `json:"filters"`
		Partial bool          `json:"partial"`
	}
)

// filterOutput flattens the filter table in argument order. JSON object keys must be
// strings, so the hypothesis-keyed table cannot be encoded directly.
func filterOutput(ids []detection.HypothesisID, result bridge.BatchResult[bridge.FilterTable]) filterReport {
	report := filterReport{Filters: []filterEntry{}, Partial: result.Partial}

	seen := make(map[detection.HypothesisID]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}

		seen[id] = true

		if filters, ok := result.Results[id]; ok {
			report.Filters = append(report.Filters, filterEntry{Hypothesis: id, Filters: filters})
		}
	}

	return report
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
