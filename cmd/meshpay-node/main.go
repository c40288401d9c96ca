package main

import "meshpaymvp/cmd/meshpay-node/commands"

func main() {
	commands.Execute()
}
