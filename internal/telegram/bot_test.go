package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/bakeready/internal/prediction"
	"github.com/example/bakeready/internal/usecase"
)

type fakeAPI struct {
	mu      sync.Mutex
	fileURL string
	updates chan tgbotapi.Update
	sent    []string
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type stubPredictor struct {
	mu       sync.Mutex
	outcome  prediction.Outcome
	requests []usecase.AttemptRequest
	current  bool
}

func (s *stubPredictor) Run(ctx context.Context, req usecase.AttemptRequest) *usecase.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return &usecase.Attempt{ID: "attempt-1", Session: req.Session, Outcome: s.outcome}
}

func (s *stubPredictor) IsCurrent(ctx context.Context, session, attemptID string) bool {
	return s.current
}

func newFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("banana-bytes"))
	}))
	t.Cleanup(server.Close)
	return server
}

func command(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func TestHandleCommands(t *testing.T) {
	api := &fakeAPI{}
	bot := New(api, &stubPredictor{}, zap.NewNop())

	bot.handleMessage(context.Background(), command(1, "/start"))
	bot.handleMessage(context.Background(), command(1, "/help"))
	bot.handleMessage(context.Background(), command(1, "/nope"))
	bot.handleMessage(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hello"})

	require.Equal(t, []string{msgStart, msgHelp, msgUnknownCommand, msgSendPhoto}, api.messages())
}

func TestHandlePhotoRepliesWithEstimate(t *testing.T) {
	api := &fakeAPI{fileURL: newFileServer(t).URL}
	predictor := &stubPredictor{outcome: prediction.Succeeded(1), current: true}
	bot := New(api, predictor, zap.NewNop())

	bot.handleMessage(context.Background(), &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 42},
		Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	})

	require.Len(t, predictor.requests, 1)
	req := predictor.requests[0]
	require.Equal(t, "42", req.Session)
	require.Equal(t, []byte("banana-bytes"), req.Image.Data)
	require.Equal(t, "image/jpeg", req.Image.MIMEType)
	require.Equal(t, []string{msgProcessing, "Your banana will be bake-ready tomorrow!\nRipeness: 93%"}, api.messages())
}

func TestHandleDocumentRejectsNonImages(t *testing.T) {
	api := &fakeAPI{}
	predictor := &stubPredictor{}
	bot := New(api, predictor, zap.NewNop())

	bot.handleMessage(context.Background(), &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 7},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "application/pdf"},
	})
	bot.handleMessage(context.Background(), &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 7},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "image/png", FileSize: maxDocumentSize + 1},
	})

	require.Empty(t, predictor.requests)
	require.Equal(t, []string{msgNotAnImage, msgTooLarge}, api.messages())
}

func TestHandlePhotoRejectsOversizedDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, maxDocumentSize+1))
	}))
	t.Cleanup(server.Close)
	api := &fakeAPI{fileURL: server.URL}
	predictor := &stubPredictor{outcome: prediction.Succeeded(1), current: true}
	bot := New(api, predictor, zap.NewNop())

	bot.handleMessage(context.Background(), &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 5},
		Photo: []tgbotapi.PhotoSize{{FileID: "unsized"}},
	})

	require.Empty(t, predictor.requests)
	require.Equal(t, []string{msgProcessing, msgTooLarge}, api.messages())
}

func TestStaleEstimatesAreDropped(t *testing.T) {
	api := &fakeAPI{fileURL: newFileServer(t).URL}
	predictor := &stubPredictor{outcome: prediction.Succeeded(3), current: false}
	bot := New(api, predictor, zap.NewNop())

	bot.handleMessage(context.Background(), &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 9},
		Photo: []tgbotapi.PhotoSize{{FileID: "photo"}},
	})

	require.Equal(t, []string{msgProcessing}, api.messages())
}

func TestRunStopsWithContext(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update)}
	bot := New(api, &stubPredictor{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	api.updates <- tgbotapi.Update{Message: command(3, "/help")}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop")
	}
	require.Equal(t, []string{msgHelp}, api.messages())
}

func TestReply(t *testing.T) {
	require.Equal(t, msgTimeout, Reply(prediction.NetworkFailed(prediction.NetworkCauseTimeout, "slow")))
	require.Equal(t, "Sorry, something went wrong: model unavailable",
		Reply(prediction.Failed(prediction.KindApplication, "model unavailable")))
}
