// ./main.go
package main

import (
	"github.com/xkilldash9x/consoledeploy/cmd"
)

// main is the entry point for the consoledeploy CLI.
func main() {
	cmd.Execute()
}
