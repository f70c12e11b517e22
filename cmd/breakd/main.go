package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sevlyar/go-daemon"

	"breakd/internal/app"
	"breakd/internal/config"
)

var (
	configPath = flag.String("c", "", "Path to configuration file (e.g., config.yaml). Defaults to ./config.yaml, ~/.config/breakd/config.yaml, /etc/breakd/config.yaml")
	logPath    = flag.String("log", "", "Path to log file (optional, defaults to stderr)")
	daemonize  = flag.Bool("d", false, "Detach from the terminal and run in the background")
	pidPath    = flag.String("pid", "/tmp/breakd.pid", "Path to pid file (only used with -d)")
)

// setupLogging configures the log output destination.
func setupLogging(logFilePath string) (*os.File, error) {
	if logFilePath == "" {
		log.SetOutput(os.Stderr)
		return nil, nil
	}

	dir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	log.SetOutput(file)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Printf("Logging to file: %s", logFilePath)
	return file, nil
}

func main() {
	flag.Parse()

	if *daemonize {
		cntxt := &daemon.Context{
			PidFileName: *pidPath,
			PidFilePerm: 0644,
			LogFileName: *logPath,
			LogFilePerm: 0644,
			Umask:       027,
		}
		child, err := cntxt.Reborn()
		if err != nil {
			log.Fatalf("FATAL: Failed to daemonize: %v", err)
		}
		if child != nil {
			// Parent: the daemon is running, we are done.
			return
		}
		defer cntxt.Release()
	}

	logFile, logErr := setupLogging(*logPath)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "Error setting up file logging: %v. Logging to stderr instead.\n", logErr)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to create application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("FATAL: Application exited with error: %v", err)
	}

	log.Println("Break reminder daemon finished.")
}
