package main

import (
	"context"
	"io"
	"time"

	aclean "github.com/airenas/async-api/pkg/clean"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/spf13/viper"
	"github.com/zangari/transcrever/internal/pkg/clean"
	"github.com/zangari/transcrever/internal/pkg/filestore"
	"github.com/zangari/transcrever/internal/pkg/postgres"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	data := &clean.Data{}
	data.Port = cfg.GetInt("port")

	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
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

	dbCleaner, err := postgres.NewCleaner(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db cleaner")
	}

	store, err := newFiler(ctx, cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init file store")
	}
	fsCleaner, err := clean.NewJobCleaner(db, store)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init file cleaner")
	}

	tData := aclean.TimerData{}
	tData.IDsProvider, err = postgres.NewDBIdsProvider(dbPool, cfg.GetDuration("timer.expire"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init IDs provider")
	}

	printBanner()

	// files go first, the job row is needed to resolve the document name
	cleaner := &aclean.CleanerGroup{}
	cleaner.Jobs = append(cleaner.Jobs, fsCleaner)
	cleaner.Jobs = append(cleaner.Jobs, dbCleaner)

	data.Cleaner = cleaner

	tData.RunEvery = cfg.GetDuration("timer.runEvery")
	tData.Cleaner = cleaner

	goapp.Log.Info().Dur("duration", cfg.GetDuration("timer.expire")).Msg("expire")

	ctxTimer, cancelFunc := context.WithCancel(ctx)
	doneCh, err := aclean.StartCleanTimer(ctxTimer, &tData)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start timer")
	}
	err = clean.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
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

         _________  ____ _____
  _____/ / _ \/ __ ` + "`" + `/ __ \
 / ___/ /  __/ /_/ / / / /
/ /__/ /\___/\__,_/_/ /_/
\___/_/                        v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/zangari/transcrever"))
}
