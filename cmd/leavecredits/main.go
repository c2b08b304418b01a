/*
main.go - Application entry point

PURPOSE:
  Runs the leavecredits command line. Subcommands:

    serve    HTTP API, optional accrual scheduler, graceful shutdown
    accrue   One monthly accrual run for an org, then exit

CONFIGURATION:
  --config points at an optional YAML file. Every key can be overridden
  with LEAVECREDITS_* environment variables (see config/config.go).

EXAMPLES:
  # Run with file database
  leavecredits serve --config=./leavecredits.yaml

  # Run with in-memory store
  LEAVECREDITS_DATABASE_DRIVER=memory leavecredits serve

  # Credit the current month for one org
  leavecredits accrue --org=acme

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys and defaults
*/
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
