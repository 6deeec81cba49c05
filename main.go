package main

import (
	"fmt"
	"os"
)

const usage = `usage: blemanager <command> [--json]

commands:
  daemon               run the connection manager
  status               show the connection state
  devices              list discovered devices
  scan                 open the device picker and add the choice
  connect <id|name>    connect, replacing any active device
  disconnect           disconnect the active device
  clear-error          dismiss the last error
  tui                  run the dashboard in-process
  version              print the version`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	args, jsonOut := splitFlags(os.Args[2:])

	var err error
	switch os.Args[1] {
	case "daemon":
		err = runDaemon()
	case "status":
		err = runCommand(IPCRequest{Command: cmdStatus}, jsonOut)
	case "devices":
		err = runCommand(IPCRequest{Command: cmdDevices}, jsonOut)
	case "scan":
		err = runCommand(IPCRequest{Command: cmdScan}, jsonOut)
	case "connect":
		var ref string
		if len(args) > 0 {
			ref = args[0]
		}
		err = runConnect(ref, jsonOut)
	case "disconnect":
		err = runCommand(IPCRequest{Command: cmdDisconnect}, jsonOut)
	case "clear-error":
		err = runCommand(IPCRequest{Command: cmdClearError}, jsonOut)
	case "tui":
		err = runTUI()
	case "version":
		fmt.Println("blemanager", version)
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n%s\n", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// splitFlags removes --json from args.
func splitFlags(args []string) (rest []string, jsonOut bool) {
	for _, a := range args {
		if a == "--json" {
			jsonOut = true
			continue
		}
		rest = append(rest, a)
	}
	return rest, jsonOut
}
