// Command ucpctl is an operator tool for AP2 keys and mandates.
package main

import (
	"os"

	"github.com/sumup/ucp/cmd/ucpctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
