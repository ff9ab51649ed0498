// Command gopper-host is an interactive client for talking to a running
// gopper-simd process (or real hardware) over the wire protocol: it
// fetches the dictionary handshake, prints it, and lets an operator send
// a handful of named commands from a REPL.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopper/hostio"
)

var (
	device = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud   = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
)

func main() {
	flag.Parse()

	fmt.Println("gopper-host: Klipper-style protocol client")

	client := hostio.NewClient()
	cfg := hostio.DefaultConfig(*device)
	cfg.Baud = *baud

	fmt.Printf("connecting to %s...\n", *device)
	if err := client.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "dictionary: %v\n", err)
		os.Exit(1)
	}
	printDictionary(client)

	fmt.Println("type 'help' for commands, 'quit' to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch fields := strings.Fields(line); fields[0] {
		case "quit", "exit", "q":
			return
		case "help", "?":
			printHelp()
		case "dict":
			printDictionary(client)
		default:
			if err := client.SendCommand(fields[0], nil); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			fmt.Println("sent")
		}
	}
}

func printHelp() {
	fmt.Println("  help              show this message")
	fmt.Println("  dict              print the dictionary summary")
	fmt.Println("  <command name>    send a no-argument named command (e.g. get_uptime)")
	fmt.Println("  quit/exit/q       exit")
}

func printDictionary(c *hostio.Client) {
	dict := c.DictionaryInfo()
	if dict == nil {
		fmt.Println("no dictionary loaded")
		return
	}
	fmt.Printf("version=%s build=%s\n", dict.Version, dict.BuildVersions)
	fmt.Printf("%d commands, %d responses\n", len(dict.Commands), len(dict.Responses))
}
