package main

import "github.com/tanq16/splitfetch/cmd"

func main() {
	cmd.Execute()
}
