package main

import "github.com/rustyeddy/tracker/internal/cli"

func main() {
	cli.Execute()
}
