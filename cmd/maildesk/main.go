// Command maildesk watches a support mailbox, turns each letter into a
// structured service ticket with an LLM-drafted answer, and serves the ticket
// API. Repeated questions are answered from a similarity cache instead of a
// fresh generation call.
package main

import (
	"fmt"
	"os"

	"github.com/maildesk/maildesk-go/cmd/maildesk/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
