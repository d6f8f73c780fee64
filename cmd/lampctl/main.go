// Package main provides the lamp control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/focuslamp/internal/api/connect"
)

var (
	app    = kingpin.New("focuslamp-lampctl", "focus lamp control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token (or set CONTROL_TOKEN env)").Envar("CONTROL_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Get session status")

	// start command
	startCmd    = app.Command("start", "Start a session")
	startFields = paramFlags(startCmd, false)

	// stop command
	stopCmd = app.Command("stop", "Stop the session")

	// configure command
	configureCmd    = app.Command("configure", "Update the stored session params and idle light")
	configureFields = paramFlags(configureCmd, true)

	// perform command
	performCmd  = app.Command("perform", "Play a named action")
	performName = performCmd.Arg("name", "Action name").Required().String()

	// watch command
	watchCmd = app.Command("watch", "Print session notifications until interrupted")
)

// paramFlags registers the numeric fields shared by start and configure.
// Values are kept as strings so that unset flags can be left out.
func paramFlags(cmd *kingpin.CmdClause, withIdle bool) map[string]*string {
	fields := map[string]*string{
		"start_hour":         cmd.Flag("start-hour", "Session start hour (0-23)").String(),
		"start_minute":       cmd.Flag("start-minute", "Session start minute (0-59)").String(),
		"total_duration_min": cmd.Flag("duration", "Total duration in minutes").String(),
		"fatigue_level":      cmd.Flag("fatigue", "Fatigue level (1-5)").String(),
		"focus_mode":         cmd.Flag("mode", "Focus mode (-1, 0 or 1)").String(),
	}
	if withIdle {
		fields["idle_cct_k"] = cmd.Flag("idle-cct", "Idle color temperature in kelvin").String()
		fields["idle_lux"] = cmd.Flag("idle-lux", "Idle illuminance in lux").String()
	}
	return fields
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Create client
	client := apiconnect.NewControlClient(http.DefaultClient, *server, *token)

	ctx := context.Background()

	// Execute command
	var (
		resp map[string]any
		err  error
	)
	switch command {
	case statusCmd.FullCommand():
		resp, err = client.Status(ctx)
	case startCmd.FullCommand():
		var fields map[string]any
		if fields, err = numericFields(startFields); err == nil {
			resp, err = client.Start(ctx, fields)
		}
	case stopCmd.FullCommand():
		resp, err = client.Stop(ctx)
	case configureCmd.FullCommand():
		var fields map[string]any
		if fields, err = numericFields(configureFields); err == nil {
			resp, err = client.Configure(ctx, fields)
		}
	case performCmd.FullCommand():
		resp, err = client.Perform(ctx, *performName)
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if resp != nil {
		printFields(resp, "")
	}
}

// numericFields converts the flags that were set into request fields.
func numericFields(flags map[string]*string) (map[string]any, error) {
	fields := make(map[string]any)
	for key, raw := range flags {
		if *raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(*raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", key, *raw)
		}
		fields[key] = v
	}
	return fields, nil
}

// watch prints notifications until SIGINT or SIGTERM.
func watch(ctx context.Context, client *apiconnect.ControlClient) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := client.Subscribe(ctx, func(n map[string]any) error {
		fmt.Printf("--- %v ---\n", n["type"])
		printFields(n, "  ")
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// printFields prints a response with sorted keys, nesting maps.
func printFields(fields map[string]any, indent string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := fields[k].(type) {
		case map[string]any:
			fmt.Printf("%s%s:\n", indent, k)
			printFields(v, indent+"  ")
		case nil:
			fmt.Printf("%s%s: -\n", indent, k)
		default:
			fmt.Printf("%s%s: %v\n", indent, k, v)
		}
	}
}
