// The main package for the crawl-admission executable.
package main

import (
	"github.com/JakeFAU/crawl-admission/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
