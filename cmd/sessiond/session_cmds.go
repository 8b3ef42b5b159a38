package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/sessiond/pkg/socket"
	"github.com/spf13/cobra"
)

// sessionCmd groups the operator-facing commands that drive a running
// sessiond daemon over its Unix-domain socket, the same way warren's
// service/node/secret subcommands drive a running manager over gRPC.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive a running sessiond daemon's session operations",
}

func init() {
	leaves := []*cobra.Command{
		sessionCreateCmd, sessionExecCmd, sessionLsCmd, sessionRmCmd,
		sessionReadCmd, sessionWriteCmd, sessionInstallCmd,
	}
	for _, c := range leaves {
		c.Flags().String("socket", defaultSocketPath, "Unix-domain socket to connect to")
		sessionCmd.AddCommand(c)
	}

	sessionCreateCmd.Flags().String("variant", "one_shot", "Session variant: one_shot or persistent")
	sessionCreateCmd.Flags().Int("timeout-seconds", 0, "Idle timeout override in seconds (0 uses the daemon default)")

	sessionLsCmd.Flags().Bool("all", false, "Include sessions idle past their timeout")

	sessionRmCmd.Flags().Bool("force", false, "Close even if the session was used within its idle timeout")
}

// call dials the --socket flag, sends operation/args, pretty-prints the
// response, and returns a non-nil error when the envelope reports
// failure so cobra surfaces a nonzero exit code.
func call(cmd *cobra.Command, operation string, args any) error {
	sockPath, _ := cmd.Flags().GetString("socket")

	out, err := socket.Call(sockPath, operation, args)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(out, &pretty); err != nil {
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	}

	encoded, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintln(os.Stdout, string(encoded))

	if ok, _ := pretty["success"].(bool); !ok {
		return fmt.Errorf("%s failed", operation)
	}
	return nil
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		variant, _ := cmd.Flags().GetString("variant")
		timeoutSeconds, _ := cmd.Flags().GetInt("timeout-seconds")
		return call(cmd, "create_session", map[string]any{
			"variant":         variant,
			"timeout_seconds": timeoutSeconds,
		})
	},
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return call(cmd, "list_sessions", map[string]any{"include_inactive": all})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Close a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return call(cmd, "close_session", map[string]any{"id": args[0], "force": force})
	},
}

var sessionExecCmd = &cobra.Command{
	Use:   "exec ID CODE",
	Short: "Run code in a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, "execute_in_session", map[string]any{"id": args[0], "code": args[1]})
	},
}

var sessionReadCmd = &cobra.Command{
	Use:   "read ID PATH",
	Short: "Read a file from a session's workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, "read_session_file", map[string]any{"id": args[0], "path": args[1]})
	},
}

var sessionWriteCmd = &cobra.Command{
	Use:   "write ID PATH CONTENT",
	Short: "Write a file into a session's workspace",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, "write_session_file", map[string]any{"id": args[0], "path": args[1], "content": args[2]})
	},
}

var sessionInstallCmd = &cobra.Command{
	Use:   "install ID PACKAGE",
	Short: "Install a package inside a session's container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		return call(cmd, "install_package", map[string]any{"id": args[0], "package_name": args[1], "source": source})
	},
}

func init() {
	sessionInstallCmd.Flags().String("source", "", "Optional package index/repo override")
}
