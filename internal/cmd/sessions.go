package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions, newest first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [session id]",
	Short: "Print a session's full state as JSON (latest when no id is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	ids, err := c.store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tITER\tFEATURE")
	for _, id := range ids {
		st, err := c.store.Load(id)
		if err != nil {
			fmt.Fprintf(w, "%s\t(unreadable)\t\t\n", id)
			continue
		}
		feature := st.Feature
		if len(feature) > 60 {
			feature = feature[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", st.ID, st.Status, st.Iteration, feature)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	st, err := c.store.Load(id)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
