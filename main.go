// The main package for the webharvest executable.
package main

import "github.com/hbarton/webharvest/cmd"

func main() {
	cmd.Execute()
}
