package main

import "github.com/AlxanderArt/HumanOS/services/worker/cli"

func main() {
	cli.Execute()
}
