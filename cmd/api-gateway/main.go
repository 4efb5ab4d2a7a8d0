package main

import "github.com/AlxanderArt/HumanOS/services/api-gateway/cli"

func main() {
	cli.Execute()
}
