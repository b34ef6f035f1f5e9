// Command uploadengine-demo wires the engine end-to-end against a real
// MinIO-compatible store and drives it from the command line. Grounded on
// the teacher's backend/main.go bootstrap (load .env, build config, install
// a signal handler for graceful shutdown) and backend/cmd/corstest's
// bare-flags CLI convention, generalized to cobra since this driver needs
// subcommands (submit/status/serve) rather than one flat flag set.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"uploadengine/confirmsink"
	"uploadengine/config"
	"uploadengine/credsource"
	"uploadengine/engine"
	applogging "uploadengine/pkg/logging"
	"uploadengine/tracker"
)

var (
	tenantID    string
	dataID      string
	region      string
	bucket      string
	objectKey   string
	localPath   string
	appendMode  bool
	confirmURL  string
	apiEndpoint string
	account     string
	password    string
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
	}

	root := &cobra.Command{
		Use:   "uploadengine-demo",
		Short: "Drives the upload engine against a real object store",
	}

	root.AddCommand(newSubmitCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildEngine() *engine.Engine {
	cfg := config.New()
	engineLogger, err := applogging.New("uploadengine-demo", applogging.DefaultProductionConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	logger := engineLogger.Logger

	source := credsource.StaticSource{ValidFor: cfg.RefreshMargin * 2}
	sink := confirmsink.NewHTTPSink(confirmURL, logger)

	e := engine.New(cfg, source, sink, logger)
	e.Initialize(apiEndpoint, account, password)
	return e
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a single upload and print the resulting envelope",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := buildEngine()
			mode := tracker.BatchCreate
			if appendMode {
				mode = tracker.RealTimeAppend
			}

			env := e.SubmitUpload(region, bucket, objectKey, localPath, dataID, tenantID, mode)
			body, err := env.Marshal()
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
	addCommonFlags(cmd)
	cmd.Flags().BoolVar(&appendMode, "append", false, "use RealTimeAppend confirmation instead of BatchCreate")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the aggregated status envelope for a data id",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := buildEngine()
			buf := make([]byte, 64*1024)
			n := e.QueryStatusByDataId(dataID, buf, len(buf))
			fmt.Println(string(buf[:n]))
			return nil
		},
	}
	cmd.Flags().StringVar(&dataID, "data-id", "", "logical data id to query")
	cmd.Flags().StringVar(&confirmURL, "confirm-url", "http://localhost/confirm", "confirmation sink URL")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "clinical backend API endpoint")
	cmd.Flags().StringVar(&account, "account", "", "clinical backend account")
	cmd.Flags().StringVar(&password, "password", "", "clinical backend password")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Initialize the engine and block until interrupted, for manual exercising",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := buildEngine()
			defer e.Shutdown()

			slog.Info("engine running", slog.Int("queue_size", e.QueueSize()))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			slog.Info("shutting down")
			time.Sleep(100 * time.Millisecond) // let any in-flight confirmation finish logging
			return nil
		},
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&region, "region", "us-east-1", "object-store region")
	cmd.Flags().StringVar(&bucket, "bucket", "", "target bucket")
	cmd.Flags().StringVar(&objectKey, "key", "", "object key, patient/<patientId>/source_data/<dataId>/<uploadDataName>[/<fileName>]")
	cmd.Flags().StringVar(&localPath, "local-path", "", "local file path to upload")
	cmd.Flags().StringVar(&dataID, "data-id", "", "logical data id")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "tenant id")
	cmd.Flags().StringVar(&confirmURL, "confirm-url", "http://localhost/confirm", "confirmation sink URL")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "clinical backend API endpoint")
	cmd.Flags().StringVar(&account, "account", "", "clinical backend account")
	cmd.Flags().StringVar(&password, "password", "", "clinical backend password")
}
