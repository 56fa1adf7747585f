package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shevd/shev/pkg/client"
	"github.com/shevd/shev/pkg/types"
)

var handlerCmd = &cobra.Command{
	Use:   "handler",
	Short: "Manage event handlers",
}

var handlerAddCmd = &cobra.Command{
	Use:   "add EVENT_TYPE",
	Short: "Register a handler for an event type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		shell, _ := cmd.Flags().GetString("shell")
		command, _ := cmd.Flags().GetString("command")
		envPairs, _ := cmd.Flags().GetStringArray("env")

		env, err := parseEnvPairs(envPairs)
		if err != nil {
			return err
		}

		req := client.CreateHandlerRequest{
			EventType: args[0],
			Shell:     shell,
			Command:   command,
			Env:       env,
		}
		if cmd.Flags().Changed("timeout") {
			timeout, _ := cmd.Flags().GetInt("timeout")
			req.Timeout = &timeout
		}

		h, err := apiClient().CreateHandler(req)
		if err != nil {
			return err
		}
		fmt.Printf("Handler '%s' registered (%s)\n", h.EventType, h.ID)
		return nil
	},
}

var handlerUpdateCmd = &cobra.Command{
	Use:   "update EVENT_TYPE",
	Short: "Update a handler's command, shell, timeout, or env",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := args[0]
		c := apiClient()

		var req client.UpdateHandlerRequest
		if cmd.Flags().Changed("shell") {
			shell, _ := cmd.Flags().GetString("shell")
			req.Shell = &shell
		}
		if cmd.Flags().Changed("command") {
			command, _ := cmd.Flags().GetString("command")
			req.Command = &command
		}
		if cmd.Flags().Changed("timeout") {
			timeout, _ := cmd.Flags().GetInt("timeout")
			req.Timeout = &timeout
		}

		clearEnv, _ := cmd.Flags().GetBool("clear-env")
		envPairs, _ := cmd.Flags().GetStringArray("env")
		switch {
		case clearEnv:
			req.Env = map[string]string{}
		case len(envPairs) > 0:
			// the server replaces env wholesale, so merge with the
			// current values here
			current, err := c.GetHandler(eventType)
			if err != nil {
				return err
			}
			merged := make(map[string]string, len(current.Env)+len(envPairs))
			for k, v := range current.Env {
				merged[k] = v
			}
			added, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}
			for k, v := range added {
				merged[k] = v
			}
			req.Env = merged
		}

		h, err := c.UpdateHandler(eventType, req)
		if err != nil {
			return err
		}
		fmt.Printf("Handler '%s' updated (%s)\n", h.EventType, h.ID)
		return nil
	},
}

var handlerRemoveCmd = &cobra.Command{
	Use:   "remove EVENT_TYPE",
	Short: "Remove a handler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().DeleteHandler(args[0]); err != nil {
			return err
		}
		fmt.Printf("Handler '%s' removed\n", args[0])
		return nil
	},
}

var handlerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List handlers",
	RunE: func(cmd *cobra.Command, args []string) error {
		handlers, err := apiClient().ListHandlers()
		if err != nil {
			return err
		}
		if len(handlers) == 0 {
			fmt.Println("No handlers registered")
			return nil
		}
		fmt.Printf("%-20s %-6s %-9s %s\n", "EVENT TYPE", "SHELL", "TIMEOUT", "COMMAND")
		for _, h := range handlers {
			timeout := "-"
			if h.Timeout != nil {
				timeout = fmt.Sprintf("%ds", *h.Timeout)
			}
			fmt.Printf("%-20s %-6s %-9s %s\n", h.EventType, h.Shell, timeout, truncate(h.Command, 60))
		}
		return nil
	},
}

var handlerShowCmd = &cobra.Command{
	Use:   "show EVENT_TYPE",
	Short: "Show a handler's full definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := apiClient().GetHandler(args[0])
		if err != nil {
			return err
		}
		printHandler(h)
		return nil
	},
}

func printHandler(h *types.Handler) {
	fmt.Printf("Event type: %s\n", h.EventType)
	fmt.Printf("ID:         %s\n", h.ID)
	fmt.Printf("Shell:      %s\n", h.Shell)
	fmt.Printf("Command:    %s\n", h.Command)
	if h.Timeout != nil {
		fmt.Printf("Timeout:    %ds\n", *h.Timeout)
	} else {
		fmt.Printf("Timeout:    none\n")
	}
	if len(h.Env) > 0 {
		data, _ := json.MarshalIndent(h.Env, "", "  ")
		fmt.Printf("Env:        %s\n", data)
	}
	fmt.Printf("Created:    %s\n", h.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Updated:    %s\n", h.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env entry %q (use KEY=VALUE)", p)
		}
		env[k] = v
	}
	return env, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	handlerCmd.AddCommand(handlerAddCmd)
	handlerCmd.AddCommand(handlerUpdateCmd)
	handlerCmd.AddCommand(handlerRemoveCmd)
	handlerCmd.AddCommand(handlerListCmd)
	handlerCmd.AddCommand(handlerShowCmd)

	handlerAddCmd.Flags().String("shell", "sh", "Shell to run the command with (pwsh, bash, sh)")
	handlerAddCmd.Flags().String("command", "", "Command line to execute")
	handlerAddCmd.Flags().Int("timeout", 0, "Kill the command after this many seconds")
	handlerAddCmd.Flags().StringArray("env", nil, "Environment entry KEY=VALUE (repeatable)")
	handlerAddCmd.MarkFlagRequired("command")

	handlerUpdateCmd.Flags().String("shell", "", "Shell to run the command with (pwsh, bash, sh)")
	handlerUpdateCmd.Flags().String("command", "", "Command line to execute")
	handlerUpdateCmd.Flags().Int("timeout", 0, "Kill the command after this many seconds")
	handlerUpdateCmd.Flags().StringArray("env", nil, "Environment entry KEY=VALUE to merge (repeatable)")
	handlerUpdateCmd.Flags().Bool("clear-env", false, "Remove all environment entries")
}
