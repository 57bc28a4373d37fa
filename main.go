package main

import "github.com/banterbot/banter/cmd"

func main() {
	cmd.Execute()
}
