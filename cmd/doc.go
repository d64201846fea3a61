// Package cmd provides an abstraction layer for executing external commands.
//
// It defines the Executor interface which wraps os/exec functionality, enabling
// easier testing and mocking of command execution throughout the application.
package cmd
