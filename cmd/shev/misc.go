package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Send one-off events",
}

var eventSendCmd = &cobra.Command{
	Use:   "send EVENT_TYPE",
	Short: "Queue a single event for its handler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		context, _ := cmd.Flags().GetString("context")
		resp, err := apiClient().SendEvent(args[0], context)
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		fmt.Printf("Event ID: %s\n", resp.Event.ID)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change runtime settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the runtime settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := apiClient().GetConfig()
		if err != nil {
			return err
		}
		fmt.Printf("port:       %s\n", cfg.Port)
		fmt.Printf("queue_size: %s\n", cfg.QueueSize)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change runtime settings (takes effect on restart)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var port, queueSize *string
		if cmd.Flags().Changed("port") {
			v, _ := cmd.Flags().GetString("port")
			port = &v
		}
		if cmd.Flags().Changed("queue-size") {
			v, _ := cmd.Flags().GetString("queue-size")
			queueSize = &v
		}
		if port == nil && queueSize == nil {
			return fmt.Errorf("nothing to set (use --port or --queue-size)")
		}

		cfg, err := apiClient().SetConfig(port, queueSize)
		if err != nil {
			return err
		}
		fmt.Printf("port:       %s\n", cfg.Port)
		fmt.Printf("queue_size: %s\n", cfg.QueueSize)
		fmt.Println("Settings are applied on the next restart")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := apiClient().GetStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Total:     %d\n", s.TotalJobs)
		fmt.Printf("Pending:   %d\n", s.PendingJobs)
		fmt.Printf("Running:   %d\n", s.RunningJobs)
		fmt.Printf("Completed: %d\n", s.CompletedJobs)
		fmt.Printf("Failed:    %d\n", s.FailedJobs)
		fmt.Printf("Cancelled: %d\n", s.CancelledJobs)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show dispatcher health and warnings",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := apiClient().GetHealth()
		if err != nil {
			return err
		}
		if h.Healthy {
			fmt.Println("Healthy")
			return nil
		}
		fmt.Println("Unhealthy:")
		for _, w := range h.Warnings {
			fmt.Printf("  [%s] %s: %s\n", w.Kind, w.EventType, w.Message)
		}
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read the catalog and re-register all producers",
	RunE: func(cmd *cobra.Command, args []string) error {
		rl, err := apiClient().Reload()
		if err != nil {
			return err
		}
		fmt.Printf("Reloaded: %d handlers, %d timers, %d schedules\n",
			rl.HandlersLoaded, rl.TimersLoaded, rl.SchedulesLoaded)
		return nil
	},
}

func init() {
	eventCmd.AddCommand(eventSendCmd)
	eventSendCmd.Flags().String("context", "", "Context string passed to the handler")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configSetCmd.Flags().String("port", "", "HTTP port")
	configSetCmd.Flags().String("queue-size", "", "Event queue capacity")
}
