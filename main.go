package main

import "github.com/samsaffron/term-relay/cmd"

func main() {
	cmd.Execute()
}
