package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/log"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/producer"
	v "github.com/keithlinneman/linnemanlabs-bridge/internal/version"
)

const component = "producer"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var conf cfg.Producer
	var showVersion bool

	fs := flag.NewFlagSet("bridge-producer", flag.ContinueOnError)
	cfg.RegisterProducer(fs, &conf)
	fs.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	logf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	if err := cfg.Load(fs, os.Args[1:], &conf.Sources, logf); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}
	if showVersion {
		fmt.Println(v.Get().String())
		return 0
	}
	if err := cfg.ValidateProducer(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           v.Version,
		Commit:            v.Commit,
		BuildId:           v.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		Writer:            os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	keyOpts := cryptoutil.KeyOptions{
		Secret:    conf.Secret,
		SSMParam:  conf.SecretSSMParam,
		KMSKeyARN: conf.MACKeyARN,
	}
	if conf.NeedsAWS() {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			return 1
		}
		if conf.MACKeyARN != "" {
			keyOpts.KMS = kms.NewFromConfig(awsCfg)
		} else {
			keyOpts.SSM = ssm.NewFromConfig(awsCfg)
		}
	}
	signer, keySource, err := cryptoutil.ResolveMAC(ctx, keyOpts)
	if err != nil {
		L.Error(ctx, err, "failed to resolve MAC key")
		return 1
	}
	if conf.UsesDemoSecret() {
		L.Warn(ctx, "signing with the public demo secret, set -secret, -secret-ssm-param or -mac-key-arn in production")
	}
	L.Info(ctx, "MAC key resolved", "key_source", keySource)

	payloads := producer.DemoPayloads(time.Now())
	if conf.PayloadFile != "" {
		p, err := producer.LoadPayloadFile(conf.PayloadFile)
		if err != nil {
			L.Error(ctx, err, "failed to load payload file", "path", conf.PayloadFile)
			return 1
		}
		payloads = []map[string]any{p}
	}

	if err := produce(ctx, os.Stdout, conf, signer, payloads); err != nil {
		L.Error(ctx, err, "producer failed")
		return 1
	}
	return 0
}

// produce seals and saves each payload, printing one line per bundle.
func produce(ctx context.Context, out io.Writer, conf cfg.Producer, signer cryptoutil.MACSigner, payloads []map[string]any) error {
	fmt.Fprintf(out, "bridge producer starting\n  producer: %s\n  staging:  %s\n\n", conf.ProducerID, conf.StagingDir)
	for _, p := range payloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := producer.Seal(ctx, p, conf.ProducerID, signer, time.Now())
		if err != nil {
			return err
		}
		path, err := producer.Save(conf.StagingDir, b)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created: %s\n", path)
	}
	fmt.Fprintf(out, "\n%d bundles created\n", len(payloads))
	return nil
}
