package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/patient-brain/internal/core"
)

var (
	encounterFlag string
	questionFlag  string
	dictationFlag string
)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openPatient returns the session of a known patient.
func openPatient(ctx context.Context, patientID string) (*core.PatientSession, error) {
	if Sessions == nil {
		return nil, fmt.Errorf("session manager not initialized")
	}
	if Directory != nil {
		ids, err := Directory.Patients(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing patients: %w", err)
		}
		if !slices.Contains(ids, patientID) {
			return nil, fmt.Errorf("patient %s not found", patientID)
		}
	}
	return Sessions.Open(ctx, patientID, encounterFlag), nil
}

var patientsCmd = &cobra.Command{
	Use:   "patients",
	Short: "List patients in the chart source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Directory == nil {
			return fmt.Errorf("chart source not initialized")
		}
		ids, err := Directory.Patients(cmdContext(cmd))
		if err != nil {
			return fmt.Errorf("listing patients: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No patients found.")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render <patient-id>",
	Short: "Render the full longitudinal patient document",
	Long: `Build the longitudinal document for a patient from every chart source
and print all eight sections: header, safety, problem matrix, lab trends,
vitals, medications, clinical narrative and session context.

Sources that fail to load are listed on stderr; the document is still
rendered from whatever loaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openPatient(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		var failed []string
		sess.View(func(doc *core.LongitudinalDocument) {
			failed = append(failed, doc.Metadata.FailedSources...)
		})
		if len(failed) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: sources unavailable: %s\n", strings.Join(failed, ", "))
		}
		fmt.Fprintln(cmd.OutOrStdout(), sess.Render())
		return nil
	},
}

var assembleCmd = &cobra.Command{
	Use:   "assemble <patient-id> <tier>",
	Short: "Assemble working memory for a task tier",
	Long: `Assemble size-budgeted working memory for one of the task tiers:

  ask         quick question, topical slices selected from --question
  dictate     narrated reasoning, the problems mentioned in --dictation
  refresh     full resync including accumulated assistant memory
  write_note  the full rendered document`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := core.ParseTaskKind(args[1])
		if err != nil {
			return err
		}
		sess, err := openPatient(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		text, err := sess.Assemble(kind, core.Extra{Question: questionFlag, Dictation: dictationFlag})
		if err != nil {
			return fmt.Errorf("assembling %s context: %w", kind, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		fmt.Fprintf(cmd.ErrOrStderr(), "%d chars (budget %d)\n", len(text), sess.Budget(kind))
		return nil
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend <patient-id> <lab>",
	Short: "Show the value history and trend of one lab",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openPatient(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		trend, ok := sess.LabTrend(args[1])
		if !ok {
			return fmt.Errorf("no results for lab %q", args[1])
		}
		fmt.Fprintln(cmd.OutOrStdout(), trend.Detailed())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{renderCmd, assembleCmd, trendCmd} {
		c.Flags().StringVar(&encounterFlag, "encounter", "", "Current encounter ID")
	}
	assembleCmd.Flags().StringVar(&questionFlag, "question", "", "Clinician question (ask tier)")
	assembleCmd.Flags().StringVar(&dictationFlag, "dictation", "", "Narrated reasoning (dictate tier)")

	rootCmd.AddCommand(patientsCmd, renderCmd, assembleCmd, trendCmd)
}
