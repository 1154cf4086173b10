package main

import (
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/terrain.report/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "serve":
		handleServe(args)
	case "acquire":
		handleAcquire(args)
	case "derive":
		handleDerive(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`terrain-report - Elevation acquisition and terrain product pipeline

Usage: terrain-report <command> [options]

Commands:
  serve      Run the HTTP API server
  acquire    Fetch one elevation dataset and write it to disk
  derive     Acquire a DTM/DSM pair and compute terrain products
  migrate    Apply or roll back database migrations
  version    Show terrain-report version
  help       Show this help message

Common Flags:
  --db <path>          SQLite database path (default: terrain.db)
  --dev                Use the synthetic provider instead of remote APIs
  --config <file>      Tuning config JSON path

Examples:
  # Serve the API locally against the synthetic provider
  terrain-report serve --dev --listen :8080

  # Fetch a 2 km DTM tile around a point
  terrain-report acquire --lat 47.6 --lon -122.3 --buffer-km 2 --out dtm.asc

  # Compute a canopy height model and hillshade
  terrain-report derive --lat 47.6 --lon -122.3 --buffer-km 2 --kinds chm,hillshade --out-dir ./products

  # Apply pending migrations
  terrain-report migrate --db terrain.db up`)
}
