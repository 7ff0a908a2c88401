// rewatch watches source trees and hot-reloads the affected namespaces.
package main

import (
	"os"

	"github.com/corbin/rewatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
