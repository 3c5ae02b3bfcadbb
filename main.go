package main

import "sidequest-backend/cmd"

func main() {
	cmd.Run()
}
