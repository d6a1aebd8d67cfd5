package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/example/bakeready/internal/config"
	"github.com/example/bakeready/internal/imageprocessor"
	"github.com/example/bakeready/internal/logging"
	"github.com/example/bakeready/internal/prediction"
	"github.com/example/bakeready/internal/predictclient"
	"github.com/example/bakeready/internal/usecase"
)

// consoleHost makes the console pick the local inference service unless an
// explicit URL is configured.
const consoleHost = "localhost"

func main() {
	err := mainImpl(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainImpl(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	client := predictclient.NewClient(logger,
		predictclient.WithTimeout(cfg.Inference.Timeout),
		predictclient.WithOrigin(cfg.Inference.PublicOrigin),
	)
	svc := usecase.NewAttemptService(imageprocessor.NewPreprocessor(logger), client, cfg.Resolver(), usecase.NewMemoryCache(), logger)

	if len(args) > 0 {
		for _, path := range args {
			fmt.Println(estimate(svc, path))
		}
		return nil
	}

	rl, err := readline.New("banana> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()
	logger.Debug("console ready", zap.String("endpoint", cfg.Resolver().Resolve(consoleHost).BaseURL))
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fmt.Println(estimate(svc, line))
	}
	return nil
}

func estimate(svc *usecase.AttemptService, path string) string {
	img, err := readImageFile(path)
	if err != nil {
		return err.Error()
	}
	attempt := svc.Run(context.Background(), usecase.AttemptRequest{
		Session: "console",
		Host:    consoleHost,
		Image:   img,
	})
	return render(attempt.Outcome)
}

func render(outcome prediction.Outcome) string {
	if failure := outcome.Failure; failure != nil {
		return fmt.Sprintf("error (%s): %s", failure.Kind, failure.Message)
	}
	days := outcome.Success.Days
	return fmt.Sprintf("%s [%.0f%% ripe]", prediction.Describe(days), prediction.RipenessProgress(days))
}

func readImageFile(path string) (prediction.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return prediction.Image{}, fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return prediction.Image{}, fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}
	return prediction.NewImage(data, filepath.Base(path), mimeType), nil
}
