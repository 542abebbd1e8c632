package main

import (
	"fmt"
	"os"
	"strings"

	"campus-eats/cmd/api"
	"campus-eats/cmd/notificationsubscriber"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var mode string
	var serviceArgs []string

	for i := 1; i < len(os.Args); i++ {
		arg := os.Args[i]
		if strings.HasPrefix(arg, "--mode=") {
			mode = strings.TrimPrefix(arg, "--mode=")
		} else if arg == "--mode" && i+1 < len(os.Args) {
			mode = os.Args[i+1]
			i++
		} else {
			serviceArgs = append(serviceArgs, arg)
		}
	}

	if mode == "" {
		printUsage()
		os.Exit(1)
	}

	os.Args = append([]string{os.Args[0]}, serviceArgs...)

	switch mode {
	case "api":
		api.Main()
	case "notification-subscriber":
		notificationsubscriber.Main()
	default:
		fmt.Printf("Invalid mode: %s\n", mode)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: campus-eats --mode=<service-mode>")
	fmt.Println("Available modes:")
	fmt.Println("  api                       HTTP API, realtime hub and SLA supervisor")
	fmt.Println("  notification-subscriber   consumes the notifications fanout")
}
