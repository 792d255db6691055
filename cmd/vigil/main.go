// Command vigil is the proactive context and alert agent.
package main

import (
	"fmt"
	"os"

	"github.com/scrypster/vigil/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
