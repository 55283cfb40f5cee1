// The main package for the hsa-app executable.
package main

import (
	"github.com/JakeFAU/hsa-app/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
