package main

import "github.com/ridoystarlord/persisto/cmd"

func main() {
	cmd.Execute()
}
