package main

import "kraph/core/cmd"

func main() {
	cmd.Execute()
}
