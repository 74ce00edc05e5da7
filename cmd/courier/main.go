// File: cmd/courier/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/courier-cli/cmd"
	"github.com/xkilldash9x/courier-cli/internal/observability"
)

const panicLogFile = "courier-panic.log"

const banner = `
   ________________
  |\              /|
  | \            / |     [ courier v%s ]
  |  \__________/  |    session-aware
  |                |    message delivery
  |________________|

`

// Function variables so tests can intercept process-level effects.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// With arguments, behave exactly like the plain binary.
	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
			}
			osExit(1)
		}
		return
	}

	// -- Interactive Mode --
	fmt.Printf(banner, cmd.Version)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("courier > ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		executeInteractiveCommand(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "reading stdin:", err)
		osExit(1)
	}

	fmt.Println("bye.")
}

// executeInteractiveCommand runs one shell line against a fresh root command.
// A fresh instance per line keeps one command's flag values from leaking into
// the next.
func executeInteractiveCommand(ctx context.Context, line string) {
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(strings.Fields(line))

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "command panicked: %v\n", r)
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// The root command is silenced, so the shell prints its errors.
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

// handlePanic writes a crash report before the process dies. The report can
// carry fragments of page content, so it gets owner-only permissions like the
// session artifacts do.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()

		message := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := osWriteFile(panicLogFile, []byte(message), 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "%s\n", message)
			osExit(1)
			return
		}

		fmt.Fprintf(os.Stderr, "\ncourier crashed; details written to %s\n", panicLogFile)
		osExit(1)
	}
}
