package main

import "docsentry/cmd/docsentry/cmd"

func main() {
	cmd.Execute()
}
