// Package telegram acquires banana photos from Telegram chats and replies
// with the bake-ready estimate.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/example/bakeready/internal/prediction"
	"github.com/example/bakeready/internal/usecase"
)

const (
	msgStart = `Hi! Send me a photo of your banana and I will tell you when it is ready for banana bread.

Commands:
/help - how to take a good photo`

	msgHelp = `Send a single photo of the banana, or the image as a file for full resolution.

Tips:
- good light, plain background
- the whole banana in frame`

	msgSendPhoto      = "Please send a photo of your banana."
	msgUnknownCommand = "Unknown command. Use /help."
	msgProcessing     = "Analysing your banana..."
	msgNotAnImage     = "That file is not an image."
	msgTooLarge       = "That image is too large, please send one under 10 MB."
	msgDownloadFailed = "Could not download the image, please try again."
	msgTimeout        = "The banana oracle took too long to answer, please try again."
)

const (
	maxDocumentSize   = 10 << 20
	defaultPhotoMIME  = "image/jpeg"
	updateTimeoutSecs = 60
)

var errFileTooLarge = errors.New("file exceeds size limit")

// API is the subset of the Telegram client used by the bot.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Predictor runs attempts on behalf of chats.
type Predictor interface {
	Run(ctx context.Context, req usecase.AttemptRequest) *usecase.Attempt
	IsCurrent(ctx context.Context, session, attemptID string) bool
}

// Bot answers photos with estimates. Each chat is one session, so a newer
// photo replaces an estimate still in flight for the same chat.
type Bot struct {
	api        API
	predictor  Predictor
	httpClient *http.Client
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewBot authorises against Telegram with token.
func NewBot(token string, predictor Predictor, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	logger.Info("authorized on account", zap.String("username", api.Self.UserName))
	return New(api, predictor, logger), nil
}

// New wraps an existing client.
func New(api API, predictor Predictor, logger *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		predictor:  predictor,
		httpClient: http.DefaultClient,
		logger:     logger.Named("telegram"),
	}
}

// Run processes updates until ctx is done, then waits for in-flight attempts.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeoutSecs

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleMessage(ctx, msg)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		b.handleImage(ctx, msg.Chat.ID, photo.FileID, "photo.jpg", defaultPhotoMIME, photo.FileSize)
	case msg.Document != nil:
		doc := msg.Document
		if !strings.HasPrefix(doc.MimeType, "image/") {
			b.sendMessage(msg.Chat.ID, msgNotAnImage)
			return
		}
		b.handleImage(ctx, msg.Chat.ID, doc.FileID, doc.FileName, doc.MimeType, doc.FileSize)
	default:
		b.sendMessage(msg.Chat.ID, msgSendPhoto)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, msgStart)
	case "help":
		b.sendMessage(msg.Chat.ID, msgHelp)
	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

func (b *Bot) handleImage(ctx context.Context, chatID int64, fileID, name, mimeType string, size int) {
	if size > maxDocumentSize {
		b.sendMessage(chatID, msgTooLarge)
		return
	}

	b.sendMessage(chatID, msgProcessing)

	data, err := b.downloadFile(ctx, fileID)
	if errors.Is(err, errFileTooLarge) {
		b.sendMessage(chatID, msgTooLarge)
		return
	}
	if err != nil {
		b.logger.Warn("failed to download image", zap.Error(err), zap.Int64("chat_id", chatID))
		b.sendMessage(chatID, msgDownloadFailed)
		return
	}

	session := strconv.FormatInt(chatID, 10)
	attempt := b.predictor.Run(ctx, usecase.AttemptRequest{
		Session: session,
		Image:   prediction.NewImage(data, name, mimeType),
	})
	if attempt.Superseded || !b.predictor.IsCurrent(ctx, session, attempt.ID) {
		b.logger.Debug("dropping stale estimate", zap.String("attempt_id", attempt.ID), zap.Int64("chat_id", chatID))
		return
	}

	b.sendMessage(chatID, Reply(attempt.Outcome))
}

// Reply renders an outcome for a chat.
func Reply(outcome prediction.Outcome) string {
	if failure := outcome.Failure; failure != nil {
		if failure.Timeout() {
			return msgTimeout
		}
		return fmt.Sprintf("Sorry, something went wrong: %s", failure.Message)
	}
	days := outcome.Success.Days
	return fmt.Sprintf("%s\nRipeness: %.0f%%", prediction.Describe(days), prediction.RipenessProgress(days))
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, errFileTooLarge
	}
	return data, nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("failed to send message", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}
