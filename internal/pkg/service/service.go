package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/zangari/transcrever/internal/pkg/api"
	"github.com/zangari/transcrever/internal/pkg/document"
	eapi "github.com/zangari/transcrever/internal/pkg/engine/api"
	"github.com/zangari/transcrever/internal/pkg/filestore"
	"github.com/zangari/transcrever/internal/pkg/messages"
	"github.com/zangari/transcrever/internal/pkg/persistence"
	"github.com/zangari/transcrever/internal/pkg/status"
	"github.com/zangari/transcrever/internal/pkg/utils"
	"github.com/zangari/transcrever/internal/pkg/worker"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Filer stores and retrieves audio and documents
type Filer interface {
	SaveFile(ctx context.Context, name string, r io.Reader) error
	LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error)
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// DB keeps job rows
type DB interface {
	InsertJob(ctx context.Context, job *persistence.Job) error
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	DeleteJob(ctx context.Context, id string) error
	Live(ctx context.Context) error
}

// Runner executes the transcription pipeline synchronously
type Runner interface {
	Run(ctx context.Context, inp *worker.Input) (*worker.Result, error)
}

// Data keeps data required for service work
type Data struct {
	Port      int
	Filer     Filer
	DB        DB
	MsgSender MsgSender
	Runner    Runner
	WSHandler WSConnHandler
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP transcrever service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 180 * time.Second
	e.Server.WriteTimeout = 10 * time.Minute

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Filer == nil {
		return errors.New("no file storage")
	}
	if data.Runner == nil {
		return errors.New("no pipeline runner")
	}
	if (data.DB == nil) != (data.MsgSender == nil) {
		return errors.New("async mode needs both DB and msg sender")
	}
	if data.DB != nil && data.WSHandler == nil {
		return errors.New("no WSHandler")
	}
	return nil
}

func (data *Data) async() bool {
	return data.DB != nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("transcrever", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/", submit(data))
	e.POST("/transcribe", submit(data))
	e.GET("/status/:id", jobStatus(data))
	e.GET("/download/:file", download(data))
	e.GET("/healthcheck", healthcheck(data))
	e.GET("/live", live(data))
	if data.async() {
		e.GET("/subscribe", subscribeHandler(data))
	}

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		if data.async() {
			if err := data.DB.Live(c.Request().Context()); err != nil {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusServiceUnavailable, "DB not ready")
			}
		}
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

func healthcheck(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"status":"ok"}`))
	}
}

func submit(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("submit method")()
		ctx := c.Request().Context()

		form, err := c.MultipartForm()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no multipart form data")
		}
		defer cleanFiles(form)
		req, file, err := parseSubmission(c, form)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer file.Close()

		id := uuid.New().String()
		inputPath, err := utils.MakeValidateFileName(id, req.fileName)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong file name: "+req.fileName)
		}
		if err := data.Filer.SaveFile(ctx, inputPath, file); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		inp := &worker.Input{ID: id, FileName: req.fileName, InputPath: inputPath, Opts: req.opts}

		if data.async() {
			if err := submitAsync(ctx, data, id, inputPath, req); err == nil {
				return c.JSON(http.StatusOK, api.SubmitResponse{Success: true, TaskID: id, Status: "processing"})
			}
			// the job row is gone, run in this process instead
			goapp.Log.Warn().Str("ID", id).Msg("queue unavailable, falling back to inline run")
			return runInline(c, data, inp, true)
		}
		return runInline(c, data, inp, false)
	}
}

func submitAsync(ctx context.Context, data *Data, id, inputPath string, req *submission) error {
	job := &persistence.Job{ID: id, FileName: req.fileName, InputPath: inputPath,
		Language: req.opts.Language, SpeakerLabels: req.opts.SpeakerLabels,
		SpeakersExpected: int32(req.opts.SpeakersExpected), Email: utils.ToSQLStr(req.email),
		State: status.Pending.String(), Created: time.Now(), Updated: time.Now()}
	if err := data.DB.InsertJob(ctx, job); err != nil {
		goapp.Log.Error().Err(err).Send()
		return err
	}
	if err := data.MsgSender.SendMessage(ctx, messages.NewProcessMessage(id), messages.Process); err != nil {
		goapp.Log.Error().Err(err).Send()
		if errDel := data.DB.DeleteJob(ctx, id); errDel != nil {
			goapp.Log.Error().Err(errDel).Str("ID", id).Msg("can't roll back job")
		}
		return err
	}
	return nil
}

func runInline(c echo.Context, data *Data, inp *worker.Input, fallback bool) error {
	ctx := c.Request().Context()
	res, err := data.Runner.Run(ctx, inp)
	if err != nil {
		goapp.Log.Error().Err(err).Str("ID", inp.ID).Msg("inline run failed")
		return c.JSON(http.StatusInternalServerError, api.SubmitResponse{Success: false,
			Error: err.Error(), Status: status.Failure.String(), Fallback: fallback})
	}
	file, err := data.Filer.LoadFile(ctx, res.Document)
	if err != nil {
		goapp.Log.Error().Err(err).Send()
		return echo.NewHTTPError(http.StatusInternalServerError, "can't load document")
	}
	defer file.Close()
	w := c.Response()
	w.Header().Set("X-Execution-Mode", "inline")
	if fallback {
		w.Header().Set("X-Fallback", "true")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+res.Document)
	http.ServeContent(w, c.Request(), res.Document, time.Now(), file)
	return nil
}

type submission struct {
	fileName string
	email    string
	opts     eapi.Options
}

func parseSubmission(c echo.Context, form *multipart.Form) (*submission, multipart.File, error) {
	if err := validateFormParams(form); err != nil {
		return nil, nil, err
	}
	fh := takeFirst(form.File[api.PrmFile], nil)
	if fh == nil {
		return nil, nil, errors.New("no form file parameter 'file'")
	}
	if fh.Filename == "" {
		return nil, nil, errors.New("no file name in multipart")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !utils.SupportAudioExt(ext) {
		return nil, nil, errors.Errorf("wrong file extension: %s", ext)
	}
	res := &submission{fileName: fh.Filename, email: c.FormValue(api.PrmEmail)}
	res.opts.Language = c.FormValue(api.PrmLanguage)
	if res.opts.Language == "" {
		res.opts.Language = api.DefaultLanguage
	}
	res.opts.SpeakerLabels = utils.ParamTrue(c.FormValue(api.PrmSpeakerLabels))
	if v := c.FormValue(api.PrmSpeakersExpected); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, nil, errors.Errorf("wrong parameter '%s' value '%s'", api.PrmSpeakersExpected, v)
		}
		res.opts.SpeakersExpected = n
	}
	if res.opts.SpeakerLabels && res.opts.SpeakersExpected == 0 {
		res.opts.SpeakersExpected = api.DefaultSpeakersExpected
	}
	file, err := fh.Open()
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't open form file")
	}
	return res, file, nil
}

func validateFormParams(form *multipart.Form) error {
	allowed := map[string]bool{api.PrmLanguage: true, api.PrmSpeakerLabels: true,
		api.PrmSpeakersExpected: true, api.PrmEmail: true}
	for k := range form.Value {
		if !allowed[k] {
			return errors.Errorf("unknown parameter '%s'", k)
		}
	}
	for k := range form.File {
		if k != api.PrmFile {
			return errors.Errorf("unexpected form file parameter '%s'", k)
		}
	}
	return nil
}

func jobStatus(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("status method")()

		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "No ID")
		}
		if !data.async() {
			return echo.NewHTTPError(http.StatusNotFound, "no async mode")
		}
		job, err := data.DB.LoadJob(c.Request().Context(), id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		return c.JSON(http.StatusOK, mapStatus(id, job))
	}
}

func mapStatus(id string, job *persistence.Job) *api.StatusResponse {
	if job == nil {
		// an unknown ID reads as a queued job
		return &api.StatusResponse{State: status.Pending.String(), Status: "Task pending..."}
	}
	switch status.From(job.State) {
	case status.Progress:
		return &api.StatusResponse{State: job.State, Status: utils.FromSQLStr(job.Progress)}
	case status.Success:
		return &api.StatusResponse{State: job.State, Status: "Task completed!",
			Result: &api.JobResult{Document: job.ResultDocument.String,
				Message: job.ResultMessage.String, SpeakerCount: fromSQLCount(job.SpeakerCount),
				SpeakerDurations: fromSQLDurations(job.ResultDurations)}}
	case status.Failure:
		return &api.StatusResponse{State: job.State, Status: job.ErrorMessage.String,
			Error: job.ErrorMessage.String, ErrorClass: job.ErrorClass.String}
	default:
		return &api.StatusResponse{State: status.Pending.String(), Status: "Task pending..."}
	}
}

func fromSQLCount(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	res := int(v.Int32)
	return &res
}

func fromSQLDurations(v sql.NullString) map[string]float64 {
	if !v.Valid || v.String == "" {
		return nil
	}
	res := map[string]float64{}
	if err := json.Unmarshal([]byte(v.String), &res); err != nil {
		goapp.Log.Error().Err(err).Msg("can't unmarshal durations")
		return nil
	}
	return res
}

func download(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("download method")()

		fileName := c.Param("file")
		if err := utils.ValidateDownloadName(fileName); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		// uploaded inputs share the store, only assembled documents are served
		if !strings.HasPrefix(fileName, document.ResultFilePrefix) {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong file name '"+fileName+"'")
		}
		goapp.Log.Info().Str("file", fileName).Msg("loading")
		file, err := data.Filer.LoadFile(c.Request().Context(), fileName)
		if err != nil {
			if errors.Is(err, filestore.ErrNotFound) {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusNotFound, "not found")
			}
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Can't get file")
		}
		defer file.Close()
		w := c.Response()
		w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
		http.ServeContent(w, c.Request(), fileName, time.Now(), file)
		return nil
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func subscribeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		return data.WSHandler.HandleConnection(ws)
	}
}

func takeFirst[K interface{}](a []K, d K) K {
	if len(a) > 0 {
		return a[0]
	}
	return d
}

func cleanFiles(f *multipart.Form) {
	if f != nil {
		_ = f.RemoveAll()
	}
}
