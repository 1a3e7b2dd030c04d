// snsxt runs extra analysis tasks on sns pipeline output.
package main

import (
	"os"

	"github.com/molecpathlab/snsxt/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
