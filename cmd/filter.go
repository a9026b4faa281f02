package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

// filterInput is the stdin document of the filter command.
type filterInput struct {
	StageOutput map[string]any     `json:"stageOutput"`
	Preferences filter.Preferences `json:"preferences"`
}

// errorOutput is written to stdout when the input cannot be evaluated.
type errorOutput struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newFilterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "filter",
		Short: "Evaluate the decision filter on stage output JSON read from stdin",
		Long: `Reads {"stageOutput": {...}, "preferences": {...}} from stdin and writes
the filter decision as JSON. No database is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.evaluateFilter(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) evaluateFilter(in io.Reader, out io.Writer) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return writeError(out, "read_error", err.Error())
	}

	var input filterInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return writeError(out, "parse_error", fmt.Sprintf("Invalid JSON: %s", err.Error()))
	}
	if input.StageOutput == nil {
		return writeError(out, "missing_field", "stageOutput is required")
	}

	decision := filter.Evaluate(filter.FromPayload(input.StageOutput), filter.Options{
		Preferences: input.Preferences,
		Logger:      observability.NewKVLogger(a.log).Named("filter"),
	})
	observability.RecordFilterDecision(string(decision.Action))
	return writeJSON(out, decision)
}

// writeError reports a failure both on stdout, for callers parsing JSON, and
// as the command error.
func writeError(out io.Writer, code, message string) error {
	if err := writeJSON(out, errorOutput{Error: true, Code: code, Message: message}); err != nil {
		return err
	}
	return errors.New(code + ": " + message)
}
