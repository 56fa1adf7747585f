package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and cancel jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		jobs, err := apiClient().ListJobs(status)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs")
			return nil
		}
		fmt.Printf("%-36s %-20s %-10s %s\n", "ID", "EVENT TYPE", "STATUS", "QUEUED AT")
		for _, j := range jobs {
			fmt.Printf("%-36s %-20s %-10s %s\n",
				j.ID, j.Event.EventType, j.Status, j.Event.Timestamp.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a job's full record including output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := apiClient().GetJob(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:         %s\n", j.ID)
		fmt.Printf("Event type: %s\n", j.Event.EventType)
		fmt.Printf("Status:     %s\n", j.Status)
		fmt.Printf("Queued:     %s\n", j.Event.Timestamp.Format("2006-01-02 15:04:05 MST"))
		if j.StartedAt != nil {
			fmt.Printf("Started:    %s\n", j.StartedAt.Format("2006-01-02 15:04:05 MST"))
		}
		if j.FinishedAt != nil {
			fmt.Printf("Finished:   %s\n", j.FinishedAt.Format("2006-01-02 15:04:05 MST"))
		}
		if j.Event.Context != "" {
			fmt.Printf("Context:    %s\n", j.Event.Context)
		}
		if j.Output != nil && *j.Output != "" {
			fmt.Printf("Output:\n%s\n", *j.Output)
		}
		if j.Error != nil && *j.Error != "" {
			fmt.Printf("Error:\n%s\n", *j.Error)
		}
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := apiClient().CancelJob(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Job %s cancelled\n", j.ID)
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobCancelCmd)

	jobListCmd.Flags().String("status", "", "Filter by status (pending, running, completed, failed, cancelled)")
}
