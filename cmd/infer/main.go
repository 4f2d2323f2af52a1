package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Brownie44l1/detect-offload/internal/logger"
	"github.com/Brownie44l1/detect-offload/pkg/client"
	"github.com/rs/zerolog/log"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "inference server base URL")
	modelPath := flag.String("model", "", "local model file to register on the server")
	quality := flag.Int("jpeg-quality", 95, "JPEG quality used for uploads")
	maxDim := flag.Int("max-dim", 0, "downscale images larger than this before upload (0 = off)")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall timeout")
	outPath := flag.String("out", "", "write summaries to this file instead of stdout")
	logLevel := flag.String("log-level", "WARN", "log level")
	flag.Parse()

	logger.Init("infer", *logLevel)

	if *modelPath == "" || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  infer -server <url> -model <model.onnx> <image> [image...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	imgs := make([]image.Image, 0, flag.NArg())
	for _, p := range flag.Args() {
		img, err := decodeFile(p)
		if err != nil {
			log.Fatal().Err(err).Str("file", p).Msg("Failed to read image")
		}
		imgs = append(imgs, img)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(*server, *modelPath,
		client.WithHTTPClient(&http.Client{Timeout: *timeout}),
		client.WithJPEGQuality(*quality),
		client.WithMaxDimension(*maxDim),
	)
	if err := c.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("server", *server).Msg("Inference server not available")
	}

	var result interface{}
	var err error
	if len(imgs) == 1 {
		result, err = c.Infer(ctx, imgs[0])
	} else {
		result, err = c.InferBatch(ctx, imgs)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Inference failed")
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatal().Err(err).Msg("Failed to write summaries")
	}
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
