// Command eavl is the command-line interface to the EAVL engine.
package main

import "github.com/mesh-intelligence/eavl/internal/cli"

func main() {
	cli.Execute()
}
