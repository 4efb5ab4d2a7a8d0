package main

import "github.com/AlxanderArt/HumanOS/services/scheduler/cli"

func main() {
	cli.Execute()
}
