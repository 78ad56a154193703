package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "vmhttp",
	Short:         "HTTP server that runs a script for every request",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var colorMode string

func init() {
	rootCmd.Version = version.Current().Version

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "colorize output (auto|on|off)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// colorEnabled resolves --color for f. auto colors terminals unless
// NO_COLOR is set.
func colorEnabled(f *os.File) bool {
	switch strings.ToLower(colorMode) {
	case "on", "always":
		return true
	case "off", "never":
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isTerminal(f)
}

func painter(f *os.File, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if colorEnabled(f) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// printError prints err in red. A diagnostic in the chain contributes its
// description and trail.
func printError(f *os.File, err error) {
	writeError(f, painter(f, color.FgRed, color.Bold), err)
}

func writeError(w io.Writer, red *color.Color, err error) {
	var derr *diag.Error
	if !errors.As(err, &derr) {
		red.Fprintf(w, "error: %v\n", err)
		return
	}
	red.Fprintf(w, "error: %s (%s)\n", derr.Description(), derr.Name())
	for _, m := range derr.Messages() {
		fmt.Fprintf(w, "  %s\n", m.String())
	}
}
