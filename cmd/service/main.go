package main

import (
	"context"
	"io"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/spf13/viper"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"
	"github.com/zangari/transcrever/internal/pkg/document"
	"github.com/zangari/transcrever/internal/pkg/engine"
	"github.com/zangari/transcrever/internal/pkg/filestore"
	"github.com/zangari/transcrever/internal/pkg/postgres"
	"github.com/zangari/transcrever/internal/pkg/service"
	"github.com/zangari/transcrever/internal/pkg/utils"
	"github.com/zangari/transcrever/internal/pkg/worker"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	go utils.RunPerfEndpoint()

	data := &service.Data{}
	data.Port = cfg.GetInt("port")

	ctx := context.Background()

	filer, err := newFiler(ctx, cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init file store")
	}
	data.Filer = filer

	eng, err := engine.NewClient(cfg.GetString("provider.url"), cfg.GetString("provider.key"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init transcription engine")
	}
	doc, err := document.NewAssembler(filer)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init document assembler")
	}
	data.Runner, err = worker.NewInlineRunner(&worker.Deps{Filer: filer, Engine: eng, Doc: doc})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init inline runner")
	}

	ctxStatus, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	var doneCh chan struct{}

	if dbURL := cfg.GetString("db.url"); dbURL != "" {
		dbConfig, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init db pool")
		}
		dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init db pool")
		}
		defer dbPool.Close()

		db, err := postgres.NewDB(dbPool)
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init db")
		}
		data.DB = db
		data.MsgSender, err = postgres.NewSender(dbPool)
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
		}
		data.WSHandler = service.NewWSConnKeeper()

		gueClient, err := gue.NewClient(pgxv5.NewConnPool(dbPool))
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init gue")
		}
		doneCh, err = service.StartStatusHandler(ctxStatus, &service.HandlerData{
			GueClient: gueClient, WorkerCount: cfg.GetInt("worker.count"),
			DB: db, WSHandler: data.WSHandler})
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't start status handler")
		}
	} else {
		goapp.Log.Warn().Msg("No db.url configured, jobs will run inline in the request")
	}

	printBanner()

	err = service.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
	cancelFunc()
	if doneCh != nil {
		select {
		case <-doneCh:
			goapp.Log.Info().Msg("All code returned. Now exit. Bye")
		case <-time.After(time.Second * 15):
			goapp.Log.Warn().Msg("Timeout gracefull shutdown")
		}
	}
}

type filer interface {
	SaveFile(ctx context.Context, name string, r io.Reader) error
	LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error)
	Delete(ctx context.Context, name string) error
	Clean(ctx context.Context, id string) error
}

func newFiler(ctx context.Context, cfg *viper.Viper) (filer, error) {
	if cfg.GetString("filer.url") != "" {
		return filestore.NewMinio(ctx, filestore.MinioOptions{URL: cfg.GetString("filer.url"),
			User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key"),
			Bucket: cfg.GetString("filer.bucket"), SSL: cfg.GetBool("filer.https")})
	}
	return filestore.NewLocal(cfg.GetString("filer.dir"))
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
  __
 / /__________ _____  ______________ _   _____  _____
/ __/ ___/ __ ` + "`" + `/ __ \/ ___/ ___/ _ \ | / / _ \/ ___/
/ /_/ /  / /_/ / / / (__  ) /__/  __/ |/ /  __/ /
\__/_/   \__,_/_/ /_/____/\___/\___/|___/\___/_/

   ________  ______   __(_)_______
  / ___/ _ \/ ___/ | / / / ___/ _ \
 (__  )  __/ /   | |/ / / /__/  __/
/____/\___/_/    |___/_/\___/\___/    v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/zangari/transcrever"))
}
