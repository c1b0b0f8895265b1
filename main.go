package main

import "github.com/samsaffron/llm-relay/cmd"

func main() {
	cmd.Execute()
}
