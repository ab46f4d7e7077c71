package main

import "easybox-network/cmd"

func main() {
	cmd.Execute()
}
