package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/metrics"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/sync/errgroup"
)

// 同時に処理するエンベロープの上限。超えた分は受信ループで待つ
const maxConcurrentEnvelopes = 16

func timeNow() time.Time {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		loc = time.UTC
	}
	return time.Now().In(loc)
}

type Handler interface {
	Handle(event *slackevents.EventsAPIInnerEvent) error
}

// NewSlackClient は環境変数のトークンでクライアントを作り、ボットの情報を確認する
func NewSlackClient() (*slack.Client, *slack.AuthTestResponse, error) {
	webApi := slack.New(
		os.Getenv("SLACK_BOT_TOKEN"),
		slack.OptionAppLevelToken(os.Getenv("SLACK_APP_TOKEN")),
	)
	authTest, err := webApi.AuthTest()
	if err != nil {
		return nil, nil, fmt.Errorf("SLACK_BOT_TOKEN is invalid: %w", err)
	}
	return webApi, authTest, nil
}

// NewStore は--storeの値に応じた永続化層を返す
func NewStore(kind string) (repository.Store, error) {
	switch kind {
	case "dynamodb", "":
		return repository.NewDynamoDBRepository()
	case "memory":
		slog.Warn("using in-memory store, data will be lost on exit")
		return repository.NewMemoryRepository(), nil
	}
	return nil, fmt.Errorf("unknown store: %s", kind)
}

// Bootstrap は設定とストアを読み込み、Slackに接続したAppを組み立てる
func Bootstrap(configPath, storeKind string) (*App, *slack.Client, error) {
	webApi, authTest, err := NewSlackClient()
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Bot ID", slog.String("bot_id", authTest.UserID))

	cfg, err := repository.NewConfigRepository(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := NewStore(storeKind)
	if err != nil {
		return nil, nil, err
	}

	app, err := NewApp(cfg, store, repository.NewSlackRepository(webApi), authTest.URL)
	if err != nil {
		return nil, nil, err
	}
	return app, webApi, nil
}

func Handle(ctx context.Context, configPath, storeKind string) error {
	app, webApi, err := Bootstrap(configPath, storeKind)
	if err != nil {
		return err
	}
	cfg := app.Config

	scheduler, err := app.Scheduler(ctx)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", slog.Any("err", err))
			}
		}()
		defer srv.Close()
	}

	eventHandler := NewEventHandler(ctx, webApi, app)
	callbackHandler := NewCallbackHandler(ctx, app)

	// Publishはコネクタのリトライを含めて同期で動くため、エンベロープごとに並行して処理する
	// 受信ループはAckだけを行い、次のエンベロープを待たせない
	var workers errgroup.Group
	workers.SetLimit(maxConcurrentEnvelopes)
	defer func() {
		_ = workers.Wait()
	}()

	socketMode := socketmode.New(webApi)
	go func() {
		for envelope := range socketMode.Events {
			switch envelope.Type {
			case socketmode.EventTypeEventsAPI:
				socketMode.Ack(*envelope.Request)
				eventPayload, ok := envelope.Data.(slackevents.EventsAPIEvent)
				if !ok {
					slog.Error("Failed to cast to EventsAPIEvent")
					continue
				}

				switch eventPayload.Type {
				case slackevents.CallbackEvent:
					innerEvent := eventPayload.InnerEvent
					workers.Go(func() error {
						if err := eventHandler.Handle(&innerEvent); err != nil {
							slog.Error("Failed to handle event", slog.Any("err", err))
						}
						return nil
					})
				}
			case socketmode.EventTypeInteractive:
				callback, ok := envelope.Data.(slack.InteractionCallback)
				if !ok {
					socketMode.Ack(*envelope.Request)
					slog.Error("Failed to cast to InteractionCallback")
					continue
				}
				// 入力エラーはモーダルに表示するためAckのペイロードで返す
				if resp := callbackHandler.Validate(&callback); resp != nil {
					socketMode.Ack(*envelope.Request, resp)
					continue
				}
				socketMode.Ack(*envelope.Request)
				workers.Go(func() error {
					if err := callbackHandler.Handle(&callback); err != nil {
						slog.Error("Failed to handle callback", slog.Any("err", err))
					}
					return nil
				})
			}
		}
	}()

	return socketMode.RunContext(ctx)
}
