package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/lumeo-crm/notifyd/internal/paths"
)

// notifyctl sends one JSON command line to a running daemon's control
// socket and prints the response. For "watch" commands it keeps printing
// streamed events until interrupted.
func main() {
	profileFlag := flag.String("profile", "default", "profile name")
	socketFlag := flag.String("socket", "", "control socket path (overrides profile)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, `usage: notifyctl [-profile name] '{"command": "...", ...}'`)
		os.Exit(2)
	}

	socketPath := *socketFlag
	if socketPath == "" {
		if err := paths.ValidateProfile(*profileFlag); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		socketPath = paths.SocketPath(*profileFlag)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: daemon not reachable: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	if _, err := fmt.Fprintln(conn, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var req struct {
		Command string `json:"command"`
	}
	_ = json.Unmarshal([]byte(flag.Arg(0)), &req)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
		// One response per command; only watch keeps streaming.
		if req.Command != "watch" {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
