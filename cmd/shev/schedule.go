package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shevd/shev/pkg/client"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage wall-clock schedules",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add EVENT_TYPE",
	Short: "Register a schedule for an event type",
	Long: `Register a schedule firing at a wall-clock time (RFC 3339, e.g.
2026-09-01T09:00:00Z). A periodic schedule fires again every 24 hours;
a one-shot schedule fires once and retires.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		context, _ := cmd.Flags().GetString("context")
		periodic, _ := cmd.Flags().GetBool("periodic")

		s, err := apiClient().CreateSchedule(client.CreateScheduleRequest{
			EventType:     args[0],
			Context:       context,
			ScheduledTime: at,
			Periodic:      periodic,
		})
		if err != nil {
			return err
		}
		kind := "one-shot"
		if s.Periodic {
			kind = "daily"
		}
		fmt.Printf("Schedule '%s' registered (%s, first firing %s)\n",
			s.EventType, kind, s.ScheduledTime.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update EVENT_TYPE",
	Short: "Change a schedule's time, context, or periodicity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req client.UpdateScheduleRequest
		if cmd.Flags().Changed("at") {
			at, _ := cmd.Flags().GetString("at")
			req.ScheduledTime = &at
		}
		if cmd.Flags().Changed("context") {
			context, _ := cmd.Flags().GetString("context")
			req.Context = &context
		}
		if cmd.Flags().Changed("periodic") {
			periodic, _ := cmd.Flags().GetBool("periodic")
			req.Periodic = &periodic
		}

		s, err := apiClient().UpdateSchedule(args[0], req)
		if err != nil {
			return err
		}
		fmt.Printf("Schedule '%s' updated, next firing %s\n",
			s.EventType, s.ScheduledTime.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove EVENT_TYPE",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().DeleteSchedule(args[0]); err != nil {
			return err
		}
		fmt.Printf("Schedule '%s' removed\n", args[0])
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		schedules, err := apiClient().ListSchedules()
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules registered")
			return nil
		}
		fmt.Printf("%-20s %-25s %-9s %s\n", "EVENT TYPE", "SCHEDULED TIME", "PERIODIC", "CONTEXT")
		for _, s := range schedules {
			fmt.Printf("%-20s %-25s %-9v %s\n",
				s.EventType, s.ScheduledTime.Format("2006-01-02 15:04:05Z07"), s.Periodic, truncate(s.Context, 40))
		}
		return nil
	},
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show EVENT_TYPE",
	Short: "Show a schedule's full definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := apiClient().GetSchedule(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Event type:     %s\n", s.EventType)
		fmt.Printf("ID:             %s\n", s.ID)
		fmt.Printf("Scheduled time: %s\n", s.ScheduledTime.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("Periodic:       %v\n", s.Periodic)
		fmt.Printf("Context:        %s\n", s.Context)
		return nil
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleUpdateCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleShowCmd)

	scheduleAddCmd.Flags().String("at", "", "Firing time, RFC 3339")
	scheduleAddCmd.Flags().String("context", "", "Context string passed to the handler")
	scheduleAddCmd.Flags().Bool("periodic", false, "Fire again every 24 hours")
	scheduleAddCmd.MarkFlagRequired("at")

	scheduleUpdateCmd.Flags().String("at", "", "Firing time, RFC 3339")
	scheduleUpdateCmd.Flags().String("context", "", "Context string passed to the handler")
	scheduleUpdateCmd.Flags().Bool("periodic", false, "Fire again every 24 hours")
}
