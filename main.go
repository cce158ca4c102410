package main

import "github.com/praekelt/sshtail/cmd"

func main() {
	cmd.Execute()
}
