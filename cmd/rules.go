package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the alert rule file",
	Long:  "Edits the operator rule file directly. The engine re-reads the file on every evaluation cycle, so changes take effect without a restart.",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := rules.NewFileStore(cfg.Rules.Path)
		if err != nil {
			return err
		}
		all, err := store.Rules()
		if err != nil {
			return err
		}
		formatRulesList(os.Stdout, all)
		return nil
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], false)
	},
}

var rulesThresholdCmd = &cobra.Command{
	Use:   "set-threshold <rule-id> <value>",
	Short: "Change a rule's threshold",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eris.Wrapf(err, "parse threshold %q", args[1])
		}

		store, err := rules.NewFileStore(cfg.Rules.Path)
		if err != nil {
			return err
		}
		rule, err := store.SetThreshold(args[0], threshold)
		if err != nil {
			return err
		}
		fmt.Printf("%s: threshold = %g\n", rule.ID, rule.Threshold)
		return nil
	},
}

func setRuleEnabled(id string, enabled bool) error {
	store, err := rules.NewFileStore(cfg.Rules.Path)
	if err != nil {
		return err
	}
	rule, err := store.SetEnabled(id, enabled)
	if err != nil {
		return err
	}
	fmt.Printf("%s: enabled = %t\n", rule.ID, rule.Enabled)
	return nil
}

func formatRulesList(w io.Writer, all []model.AlertRule) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tTHRESHOLD\tENABLED\tLAST TRIGGERED")
	for _, r := range all {
		last := "-"
		if r.LastTriggered != nil {
			last = r.LastTriggered.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%t\t%s\n",
			r.ID, r.Name, r.Type, r.Threshold, r.Enabled, last)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesEnableCmd, rulesDisableCmd, rulesThresholdCmd)
	rootCmd.AddCommand(rulesCmd)
}
