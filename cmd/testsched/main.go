// Package main provides the entry point for the testsched CLI.
package main

import "yqhp/test-scheduler/cmd"

func main() {
	cmd.Execute()
}
