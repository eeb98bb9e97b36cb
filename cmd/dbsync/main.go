package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	log "github.com/sirupsen/logrus"

	"dbsync/pkg/dbsync"
)

// TimestampFormat of the log lines, always UTC
const TimestampFormat = `2006-01-02T15:04:05.000`

var cli struct {
	Export    dbsync.Export        `cmd:"" help:"Copy the source database into an empty target and/or an SQL file"`
	Ping      dbsync.Ping          `cmd:"" help:"Ping the databases to check the config is right"`
	Inventory dbsync.ListInventory `cmd:"" help:"List the tables that would be copied and their row counts"`
	Verify    dbsync.Verify        `cmd:"" help:"Compare the row counts of the source and the target"`

	MetricsPort int    `help:"Which port to publish metrics on, 0 disables it" default:"9102"`
	LogLevel    string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info"`
	LogFile     string `help:"Also write the log to this file, rotated when it grows large" optional:"" type:"path"`
}

func inKubernetes() bool {
	return os.Getenv("KUBERNETES_PORT") != ""
}

func startMetricsServer() {
	if cli.MetricsPort == 0 {
		return
	}
	go func() {
		bindAddr := fmt.Sprintf("localhost:%d", cli.MetricsPort)
		if inKubernetes() {
			bindAddr = fmt.Sprintf(":%d", cli.MetricsPort)
		}
		log.Infof("Serving metrics on http://%s/metrics", bindAddr)
		http.Handle("/metrics", promhttp.Handler())
		err := http.ListenAndServe(bindAddr, nil)
		log.Errorf("metrics server stopped: %v", err)
	}()
}

type utcFormatter struct {
	log.Formatter
}

func (u utcFormatter) Format(e *log.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

func setupLogging() error {
	jsonFormatter := &log.JSONFormatter{
		FieldMap: log.FieldMap{
			log.FieldKeyMsg:  "message",
			log.FieldKeyTime: "timestamp",
		},
	}
	jsonFormatter.TimestampFormat = TimestampFormat
	log.SetFormatter(&utcFormatter{jsonFormatter})

	level, err := log.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	if cli.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cli.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			Compress:   true,
		}))
	}
	return nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("dbsync"),
		kong.Description("Copies a database into a fresh schema, possibly of another kind of database"))

	err := setupLogging()
	ctx.FatalIfErrorf(err)
	startMetricsServer()

	// Call the Run() method of the selected parsed command.
	err = ctx.Run()
	if err != nil {
		log.Errorf("%+v", err)
	}
	ctx.FatalIfErrorf(err)
}
