package main

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/vmhttp/httpd"
	"github.com/luciancaetano/vmhttp/internal/config"
	"github.com/luciancaetano/vmhttp/internal/logging"
	"github.com/luciancaetano/vmhttp/internal/version"
)

var (
	serveConfigPath string
	servePort       int
	serveAddress    string
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to a TOML config file")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "IPv4 address to bind (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server. It stops on SIGINT or SIGTERM, or when "q" is
entered on an interactive terminal.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("address") {
		cfg.Server.Address = serveAddress
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	logging.SetGlobal(logger)

	srv, err := httpd.New(cfg, httpd.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("vmhttp started", "addr", srv.Addr().String(), "version", version.Current().Version)
	if addr := srv.MonitorAddr(); addr != nil {
		logger.Info("monitor started", "addr", addr.String())
	}

	if isTerminal(os.Stdin) {
		cmd.Println(`enter "q" to stop`)
		// The reader cannot be interrupted; it is abandoned at exit.
		go watchQuit(os.Stdin, stop)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Wait)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("vmhttp stopped")
	return nil
}

// watchQuit calls stop once a line reading "q" arrives on r.
func watchQuit(r io.Reader, stop func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "q") {
			stop()
			return
		}
	}
}
