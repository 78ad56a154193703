package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/engine"
	"github.com/luciancaetano/vmhttp/internal/logging"
)

var checkCmd = &cobra.Command{
	Use:   "check <file.js>...",
	Short: "Compile script files and report diagnostics",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

type checkResult struct {
	path string
	img  *engine.Image
	derr *diag.Error
}

func runCheck(cmd *cobra.Command, args []string) error {
	eng := engine.New(engine.Config{Logger: logging.Discard()})
	results := checkFiles(cmd, eng, args)

	out := cmd.OutOrStdout()
	green := painter(os.Stdout, color.FgGreen)
	red := painter(os.Stdout, color.FgRed, color.Bold)
	failed := 0
	for _, r := range results {
		if r.derr.Failed() {
			failed++
			red.Fprint(out, "FAIL")
			fmt.Fprintf(out, " %s\n", r.path)
			writeError(out, red, r.derr)
			continue
		}
		green.Fprint(out, "ok  ")
		fmt.Fprintf(out, " %s (%d bytes, sha256 %.12s)\n", r.path, r.img.Size, r.img.Hash)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to compile", failed, len(results))
	}
	return nil
}

// checkFiles compiles paths in parallel. Results keep the argument order.
func checkFiles(cmd *cobra.Command, eng *engine.Engine, paths []string) []checkResult {
	results := make([]checkResult, len(paths))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			img, derr := eng.CompileFile(ctx, path)
			results[i] = checkResult{path: path, img: img, derr: derr}
			return nil
		})
	}
	g.Wait()
	return results
}
