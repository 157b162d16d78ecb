package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lanternworks/otalink/cli/config"
	"github.com/lanternworks/otalink/imagestore"
	"github.com/lanternworks/otalink/log"
	"github.com/lanternworks/otalink/server"
	"github.com/lanternworks/otalink/service"
)

// DefaultListen is the default dev-server listen address.
const DefaultListen = ":8870"

// ServeCommand returns the serve command: a development update service
// offering one firmware image over the wire protocol.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve one firmware image as a development update service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to otalink.yaml config file",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address",
			},
			&cli.StringFlag{
				Name:  "version",
				Usage: "Target firmware version to offer",
			},
			&cli.StringFlag{
				Name:  "image",
				Usage: "Path to the firmware image file",
			},
			&cli.StringFlag{
				Name:  "s3-bucket",
				Usage: "S3 bucket holding the firmware image",
			},
			&cli.StringFlag{
				Name:  "s3-key",
				Usage: "S3 object key of the firmware image",
			},
			&cli.StringFlag{
				Name:  "s3-region",
				Usage: "AWS region for the S3 image source",
			},
			&cli.StringFlag{
				Name:  "s3-endpoint",
				Usage: "Custom S3 endpoint URL (R2, MinIO, etc.)",
			},
			&cli.BoolFlag{
				Name:  "s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		cfg = loaded
	}

	version := firstNonEmpty(c.String("version"), cfg.Serve.Version)
	if version == "" {
		return cli.Exit("target version is required (--version or config)", exitInvalidInput)
	}

	listen := firstNonEmpty(c.String("listen"), cfg.Serve.Listen, DefaultListen)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := imageSource(ctx, c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	image, err := source.Load(ctx)
	if err != nil {
		return cli.Exit(err.Error(), exitSessionError)
	}

	logger := log.NewPlainLogger().Sugar()
	logger.Infof("serving version %q (%d bytes) on %s", version, len(image), listen)

	handler := server.NewHandler(service.NewInMemory([]byte(version), image), logger)
	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return cli.Exit(err.Error(), exitSessionError)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}
	return nil
}

// imageSource selects the image source from flags and config: S3 when a
// bucket is configured, the local file otherwise.
func imageSource(ctx context.Context, c *cli.Context, cfg *config.Config) (imagestore.Source, error) {
	bucket := firstNonEmpty(c.String("s3-bucket"), cfg.Serve.S3.Bucket)
	if bucket != "" {
		return imagestore.NewS3(ctx, imagestore.S3Config{
			Bucket:       bucket,
			Key:          firstNonEmpty(c.String("s3-key"), cfg.Serve.S3.Key),
			Region:       firstNonEmpty(c.String("s3-region"), cfg.Serve.S3.Region),
			Endpoint:     firstNonEmpty(c.String("s3-endpoint"), cfg.Serve.S3.Endpoint),
			UsePathStyle: c.Bool("s3-path-style") || cfg.Serve.S3.S3PathStyle,
		})
	}

	path := firstNonEmpty(c.String("image"), cfg.Serve.Image)
	if path == "" {
		return nil, errors.New("an image source is required (--image or --s3-bucket)")
	}
	return &imagestore.File{Path: path}, nil
}
