// File: cmd/ideagraph/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/ideagraph/cmd"
	"github.com/xkilldash9x/ideagraph/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
   o---o
  /|   |\        ideagraph v%s
 o-o---o-o       topic > main > sub > insight > opportunity
  \|   |/
   o---o         type 'help' for commands, 'exit' to quit

`

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	// Allows mocking os.Exit in tests.
	osExit = os.Exit
)

// main is the entry point of the application.
func main() {
	// Global panic handler.
	defer handlePanic()

	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// If arguments are passed, execute the command directly and exit.
	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			// cmd.Execute handles the logging, we just handle the exit code.
			if errors.Is(err, context.Canceled) {
				osExit(0)
			} else {
				osExit(1)
			}
		}
		return
	}

	// -- Interactive Mode --
	if err := runShell(ctx, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
	}
}

// runShell reads one command per line until EOF, exit or quit.
func runShell(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	fmt.Fprintf(out, banner, cmd.Version)
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "ideagraph > ")
		if !scanner.Scan() {
			break // Exit on EOF (Ctrl+D)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if ctx.Err() != nil {
			break
		}

		executeInteractiveCommand(ctx, line, out, errOut)
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Exiting ideagraph.")
	return nil
}

// executeInteractiveCommand parses and runs the command from the interactive shell.
func executeInteractiveCommand(ctx context.Context, line string, out, errOut io.Writer) {
	// Create a new, clean command instance for each execution.
	// This is critical for ensuring flags from one command don't leak into the next.
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(splitArgs(line))
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	// Execute the command, capturing panics to avoid crashing the interactive session.
	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(errOut, "Error: Command panicked: %v\n", r)
			}
		}()
		if err := rootCmd.ExecuteContext(ctx); err != nil {
			// In interactive mode, we print the error but do not exit the shell.
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(errOut, "Command aborted.")
				return
			}
			fmt.Fprintln(errOut, "Error:", err)
		}
	}()
}

// splitArgs splits a shell line on whitespace, keeping double-quoted runs
// together so topic and edit texts can be typed naturally.
func splitArgs(line string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		pending bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			pending = true
		case !quoted && (r == ' ' || r == '\t'):
			if pending {
				args = append(args, current.String())
				current.Reset()
				pending = false
			}
		default:
			current.WriteRune(r)
			pending = true
		}
	}
	if pending {
		args = append(args, current.String())
	}
	return args
}

// handlePanic records an unrecovered panic to panic.log and exits non-zero.
func handlePanic() {
	if r := recover(); r != nil {
		// Ensure logs are flushed before proceeding.
		observability.Sync()

		stackTrace := debug.Stack()
		panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, stackTrace)

		// Log the panic to the dedicated file. (Use injected variable)
		if err := osWriteFile(panicLogFile, []byte(panicMessage), 0644); err != nil {
			// If logging fails, print to stderr as a fallback.
			fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
			osExit(1)
			return // Return facilitates testing when osExit is mocked.
		}

		fmt.Fprintf(os.Stderr, "\n----------------------------------------------------------------\n")
		fmt.Fprintf(os.Stderr, "CRASH DETECTED. Your last saved session is intact.\n")
		fmt.Fprintf(os.Stderr, "Details logged to %s\n", panicLogFile)
		fmt.Fprintf(os.Stderr, "----------------------------------------------------------------\n\n")
		osExit(1)
	}
}
