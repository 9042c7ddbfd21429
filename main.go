// Command corr collects engineering-activity evidence for one person over
// a time window and correlates it into work stories and insights, through
// a cost-bounded three-tier pipeline governed by a monthly spend ledger.
package main

import (
	"os"

	"github.com/perfpulse/correlate/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
