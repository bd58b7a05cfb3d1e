package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
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
	"github.com/zangari/transcrever/internal/pkg/utils"
	"github.com/zangari/transcrever/internal/pkg/worker"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	go utils.RunPerfEndpoint()

	data := &worker.ServiceData{}
	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}

	goapp.Log.Info().Int32("max_conn", dbConfig.MaxConns).Int32("min_conn", dbConfig.MinConns).Msg("db info")

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	data.GueClient, err = gue.NewClient(pgxv5.NewConnPool(dbPool))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue")
	}
	data.WorkerCount = cfg.GetInt("worker.count")
	data.Testing = cfg.GetBool("worker.testing")
	data.MsgSender, err = postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}
	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	data.DB = db

	filer, err := newFiler(ctx, cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init file store")
	}
	eng, err := engine.NewClient(cfg.GetString("provider.url"), cfg.GetString("provider.key"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init transcription engine")
	}
	doc, err := document.NewAssembler(filer)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init document assembler")
	}
	data.Pipeline = &worker.Deps{Filer: filer, Engine: eng, Doc: doc}

	printBanner()

	ctx, cancelFunc := context.WithCancel(context.Background())
	doneCh, err := worker.StartWorkerService(ctx, data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start worker service")
	}
	/////////////////////// Waiting for terminate
	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		goapp.Log.Info().Msg("Got exit signal")
	case <-doneCh:
		goapp.Log.Info().Msg("Service exit")
	}
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
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

                      __
 _      ______  _____/ /_____  _____
| | /| / / __ \/ ___/ //_/ _ \/ ___/
| |/ |/ / /_/ / /  / ,< /  __/ /
|__/|__/\____/_/  /_/|_|\___/_/       v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/zangari/transcrever"))
}
