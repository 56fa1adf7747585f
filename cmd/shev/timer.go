package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shevd/shev/pkg/client"
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Manage recurring timers",
}

var timerAddCmd = &cobra.Command{
	Use:   "add EVENT_TYPE",
	Short: "Register a recurring timer for an event type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetInt("interval")
		context, _ := cmd.Flags().GetString("context")

		t, err := apiClient().CreateTimer(client.CreateTimerRequest{
			EventType:    args[0],
			Context:      context,
			IntervalSecs: interval,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Timer '%s' registered, firing every %ds\n", t.EventType, t.IntervalSecs)
		return nil
	},
}

var timerUpdateCmd = &cobra.Command{
	Use:   "update EVENT_TYPE",
	Short: "Change a timer's interval or context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req client.UpdateTimerRequest
		if cmd.Flags().Changed("interval") {
			interval, _ := cmd.Flags().GetInt("interval")
			req.IntervalSecs = &interval
		}
		if cmd.Flags().Changed("context") {
			context, _ := cmd.Flags().GetString("context")
			req.Context = &context
		}

		t, err := apiClient().UpdateTimer(args[0], req)
		if err != nil {
			return err
		}
		fmt.Printf("Timer '%s' updated, firing every %ds\n", t.EventType, t.IntervalSecs)
		return nil
	},
}

var timerRemoveCmd = &cobra.Command{
	Use:   "remove EVENT_TYPE",
	Short: "Remove a timer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().DeleteTimer(args[0]); err != nil {
			return err
		}
		fmt.Printf("Timer '%s' removed\n", args[0])
		return nil
	},
}

var timerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List timers",
	RunE: func(cmd *cobra.Command, args []string) error {
		timers, err := apiClient().ListTimers()
		if err != nil {
			return err
		}
		if len(timers) == 0 {
			fmt.Println("No timers registered")
			return nil
		}
		fmt.Printf("%-20s %-10s %s\n", "EVENT TYPE", "INTERVAL", "CONTEXT")
		for _, t := range timers {
			fmt.Printf("%-20s %-10s %s\n", t.EventType, fmt.Sprintf("%ds", t.IntervalSecs), truncate(t.Context, 50))
		}
		return nil
	},
}

var timerShowCmd = &cobra.Command{
	Use:   "show EVENT_TYPE",
	Short: "Show a timer's full definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := apiClient().GetTimer(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Event type: %s\n", t.EventType)
		fmt.Printf("ID:         %s\n", t.ID)
		fmt.Printf("Interval:   %ds\n", t.IntervalSecs)
		fmt.Printf("Context:    %s\n", t.Context)
		return nil
	},
}

func init() {
	timerCmd.AddCommand(timerAddCmd)
	timerCmd.AddCommand(timerUpdateCmd)
	timerCmd.AddCommand(timerRemoveCmd)
	timerCmd.AddCommand(timerListCmd)
	timerCmd.AddCommand(timerShowCmd)

	timerAddCmd.Flags().Int("interval", 0, "Seconds between firings")
	timerAddCmd.Flags().String("context", "", "Context string passed to the handler")
	timerAddCmd.MarkFlagRequired("interval")

	timerUpdateCmd.Flags().Int("interval", 0, "Seconds between firings")
	timerUpdateCmd.Flags().String("context", "", "Context string passed to the handler")
}
