package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/saribmah/orchestrator/internal/queue"
)

var queueAddDir string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the session queue on a running server",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show queued, running, and finished items",
	RunE:  runQueueList,
}

var queueAddCmd = &cobra.Command{
	Use:   "add [feature request]...",
	Short: "Enqueue one or more feature requests",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQueueAdd,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove [item id]",
	Short: "Remove a pending item",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRemove,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all pending items",
	RunE:  runQueueClear,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queueAddCmd, queueRemoveCmd, queueClearCmd)
	queueAddCmd.Flags().StringVar(&queueAddDir, "dir", "", "working directory for the queued sessions")
}

var queueClient = &http.Client{Timeout: 10 * time.Second}

// callServer performs one API request and decodes the JSON response into out.
func callServer(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverBaseURL()+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := queueClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	var state struct {
		Items  []queue.Item `json:"items"`
		Counts queue.Counts `json:"counts"`
	}
	if err := callServer(http.MethodGet, "/api/queue", nil, &state); err != nil {
		return err
	}

	if len(state.Items) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSESSION\tFEATURE")
	for _, it := range state.Items {
		feature := it.Feature
		if len(feature) > 60 {
			feature = feature[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Status, it.SessionID, feature)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d pending, %d running, %d completed, %d failed\n",
		state.Counts.Pending, state.Counts.Running, state.Counts.Completed, state.Counts.Failed)
	return nil
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	items := make([]queue.Request, 0, len(args))
	for _, feature := range args {
		items = append(items, queue.Request{Feature: feature, WorkingDir: queueAddDir})
	}

	var resp struct {
		Items []queue.Item `json:"items"`
	}
	err := callServer(http.MethodPost, "/api/queue/items/batch", map[string]any{"items": items}, &resp)
	if err != nil {
		return err
	}
	for _, it := range resp.Items {
		fmt.Printf("Queued %s: %s\n", it.ID, it.Feature)
	}
	return nil
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	if err := callServer(http.MethodDelete, "/api/queue/items/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := callServer(http.MethodDelete, "/api/queue/pending", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Removed %d pending item(s)\n", resp.Removed)
	return nil
}
