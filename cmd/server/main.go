/*
main.go - Application entry point

PURPOSE:
  Starts the flight school ledger server, or runs one of its maintenance
  commands against the same database.

COMMANDS:
  serve            HTTP API with the overdue scheduler (default)
  balance <user>   Print a member's balance summary
  outstanding      List members with a non-zero balance
  refresh-overdue  Move past-due pending invoices to overdue once

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment)
  2. Build the zerolog logger
  3. Open the SQLite store and its settings view
  4. Build the invoice service and run the command

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the overdue scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  DATABASE_PATH=./data/ledger.db ./server

  # Run with in-memory database on another port
  ./server serve --db=":memory:" --port=3000

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
