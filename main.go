package main

import "sendmer/cmd"

func main() {
	cmd.Execute()
}
