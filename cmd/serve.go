package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatekit/trk/internal/api"
	"github.com/gatekit/trk/internal/daemon"
	"github.com/gatekit/trk/internal/directory"
	"github.com/gatekit/trk/internal/llm"
	"github.com/gatekit/trk/internal/workflow"
)

var serveDetach bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the trk REST API server.

By default the server runs in the foreground and listens on port 8080.
Use --detach to run it in the background; 'trk serve stop' and
'trk serve status' manage the detached process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveDetach {
			return serveStartDetached()
		}
		return serveForeground()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the detached API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the detached API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().BoolVarP(&serveDetach, "detach", "d", false, "Run in the background")
	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the PID file used to track the detached server.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "trk-serve.pid"))
}

// serveLogPath returns the log file path for the detached server.
func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "trk-serve.log")
}

func serveForeground() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	eng := workflow.NewEngine(s, directory.NewStoreResolver(s))

	var llmClient *llm.Client
	if key := viper.GetString("anthropic.api_key"); key != "" {
		llmClient = llm.NewClient(key, viper.GetString("anthropic.model"))
	}

	srv := api.NewServer(s, eng, llmClient)
	addr := fmt.Sprintf(":%d", viper.GetInt("serve.port"))
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := pf.Write(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer func() { _ = pf.Remove() }()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals()...)

	ui.Info("Serving trk API at http://localhost%s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		ui.Info("Received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(ctx)
	}
}

func serveStartDetached() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve", "--port", strconv.Itoa(viper.GetInt("serve.port")))
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	ui.Success("Started trk API server (pid %d)", child.Process.Pid)
	ui.Info("Logs: %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("server not running")
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	ui.Success("Stopped trk API server (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Info("Server running (pid %d) on port %d", pid, viper.GetInt("serve.port"))
	} else {
		ui.Info("Server not running")
	}
	return nil
}
