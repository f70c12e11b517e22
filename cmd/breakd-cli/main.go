package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"breakd/internal/ipc"
)

var rootCmd = &cobra.Command{
	Use:   "breakd-cli",
	Short: "CLI tool to interact with the breakd daemon",
	Long:  `A command-line interface to query and control the running break reminder daemon via its Unix socket.`,
}

// sendCommand performs one request/response round trip with the daemon.
func sendCommand(cmd ipc.Command) ipc.Response {
	conn, err := net.DialTimeout("unix", ipc.SocketPath, 2*time.Second)
	if err != nil {
		log.Fatalf("Error connecting to daemon socket (%s): %v\nIs the breakd daemon running?", ipc.SocketPath, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	if err := encoder.Encode(cmd); err != nil {
		log.Fatalf("Error sending command: %v", err)
	}

	var resp ipc.Response
	if err := decoder.Decode(&resp); err != nil {
		log.Fatalf("Error receiving response: %v", err)
	}

	if !resp.Success {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
	return resp
}

func printData(data interface{}) {
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Println("Data (raw):", data)
		return
	}
	fmt.Println(string(pretty))
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the breakd daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdPing})
		fmt.Println(resp.Message)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current reminder cycle state",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdStatus})

		// Data arrives as a generic map; re-decode into the typed struct.
		var status ipc.StatusData
		raw, _ := json.Marshal(resp.Data)
		if err := json.Unmarshal(raw, &status); err != nil {
			log.Fatalf("Unexpected status payload: %v", err)
		}

		fmt.Printf("State:     %s\n", status.State)
		if status.State == "Working" && status.NextAlertSecs > 0 {
			next := time.Duration(status.NextAlertSecs * float64(time.Second)).Round(time.Second)
			fmt.Printf("Next alert in: %s\n", next)
		}
		fmt.Printf("Breaks taken:  %d\n", status.Completed)
		fmt.Printf("Postponed:     %d\n", status.Postponed)
		fmt.Printf("Skipped:       %d\n", status.Skipped)
	},
}

var postponeCmd = &cobra.Command{
	Use:   "postpone",
	Short: "Postpone the current break alert",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdPostpone})
		fmt.Println(resp.Message)
	},
}

var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip the current break alert",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdSkip})
		fmt.Println(resp.Message)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent reminder cycle history",
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		types, _ := cmd.Flags().GetStringSlice("types")

		resp := sendCommand(ipc.Command{
			Name: ipc.CmdHistory,
			Args: ipc.HistoryArgs{Since: since, Types: types},
		})
		printData(resp.Data)
	},
}

func init() {
	historyCmd.Flags().String("since", "24h", "How far back to look (duration, e.g. 2h, 168h)")
	historyCmd.Flags().StringSlice("types", nil, "Filter by record types (e.g. alert_shown,break_taken)")

	rootCmd.AddCommand(pingCmd, statusCmd, postponeCmd, skipCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
