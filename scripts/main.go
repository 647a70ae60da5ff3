package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/agentmesh/billing/scripts/internal"
)

// Command represents a script that can be run
type Command struct {
	Name        string
	Description string
	Run         func() error
}

var commands = []Command{
	{
		Name:        "seed-plans",
		Description: "Insert the plan catalog from a JSON file",
		Run:         internal.SeedPlans,
	},
	{
		Name:        "sign-callback",
		Description: "Print the HMAC of a gateway callback JSON file",
		Run:         internal.SignCallback,
	},
}

func main() {
	var (
		listCommands bool
		cmdName      string
		plansFile    string
		callbackFile string
	)

	flag.BoolVar(&listCommands, "list", false, "List all available commands")
	flag.StringVar(&cmdName, "cmd", "", "Command to run")
	flag.StringVar(&plansFile, "plans-file", "", "Path to plans JSON file")
	flag.StringVar(&callbackFile, "callback-file", "", "Path to a transaction callback JSON file")

	flag.Parse()

	if listCommands {
		fmt.Println("Available commands:")
		for _, cmd := range commands {
			fmt.Printf("  %-20s %s\n", cmd.Name, cmd.Description)
		}
		return
	}

	if cmdName == "" {
		log.Fatal("Please specify a command to run using -cmd flag. Use -list to see available commands.")
	}

	if plansFile != "" {
		os.Setenv("PLANS_FILE", plansFile)
	}
	if callbackFile != "" {
		os.Setenv("CALLBACK_FILE", callbackFile)
	}

	for _, cmd := range commands {
		if cmd.Name == cmdName {
			if err := cmd.Run(); err != nil {
				log.Fatalf("Error running command %s: %v", cmdName, err)
			}
			return
		}
	}

	log.Fatalf("Unknown command: %s. Use -list to see available commands.", cmdName)
}
