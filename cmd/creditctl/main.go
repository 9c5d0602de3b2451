/*
creditctl - Operator CLI for a shop's credit book

PURPOSE:
  Drives the allocation engine against a remote Ledger Store (cmd/server
  or any compatible service) from a terminal: list customers with open
  credit, inspect one customer's ledger, and record a lump-sum payment
  that is spread over the customer's sales oldest first.

COMMANDS:
  creditctl groups --shop S [--status open|closed|all]
  creditctl ledger --shop S --customer phone:0788111222
  creditctl pay    --shop S --customer KEY --amount 12000 --method CASH [--note ...] [--dry-run]

CONFIGURATION:
  --config FILE reads the [client], [engine] and [log] sections of the
  shared TOML config. CREDIT_LEDGER_URL, CREDIT_SHOP and the other
  variables of config/config.go apply; flags win.
*/
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
