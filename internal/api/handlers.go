package api

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"fileforge/internal/convert"
	"fileforge/internal/task"
)

const defaultPollMinInterval = time.Second

type submitResponse struct {
	TaskID string `json:"taskId"`
}

// API exposes the conversion endpoints over a shared scheduler core, so the
// synchronous and queued paths use the same validation and error mapping.
type API struct {
	scheduler *task.Scheduler
	limiter   *pollLimiter
	pollHint  time.Duration
}

// Options configures the HTTP boundary.
type Options struct {
	// PollMinInterval is the fastest allowed status-poll cadence per task;
	// faster callers get 429 + Retry-After.
	PollMinInterval time.Duration
}

func NewAPI(scheduler *task.Scheduler, opts Options) *API {
	if opts.PollMinInterval <= 0 {
		opts.PollMinInterval = defaultPollMinInterval
	}
	return &API{
		scheduler: scheduler,
		limiter:   newPollLimiter(opts.PollMinInterval),
		pollHint:  opts.PollMinInterval,
	}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/tasks", a.SubmitTask)
		api.GET("/tasks/:id", a.GetTask)
		api.POST("/convert/doc", a.ConvertDoc)
		api.POST("/convert/vector", a.ConvertVector)
	}
}

// SubmitTask admits an upload into the queued path and returns its task ID.
// Admission errors are the only synchronous failures here.
func (a *API) SubmitTask(c *gin.Context) {
	category, err := convert.ParseCategory(c.PostForm("category"))
	if err != nil {
		log.Warn().Err(err).Msg("task submission rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, ok := a.readUpload(c, category)
	if !ok {
		return
	}

	id, err := a.scheduler.Enqueue(req)
	if err != nil {
		a.writeConvertError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submitResponse{TaskID: id})
}

// GetTask returns a snapshot of the task record. Unknown IDs get 404, callers
// polling faster than the allowed rate get 429 with a Retry-After hint.
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	rec, found := a.scheduler.Store().Get(id)
	if !found {
		log.Warn().Str("task_id", id).Msg("task not found on poll")
		c.JSON(http.StatusNotFound, gin.H{"error": task.ErrTaskNotFound.Error()})
		return
	}

	if allowed, wait := a.limiter.Allow(id); !allowed {
		seconds := int(math.Ceil(wait.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "polling too fast"})
		return
	}

	// Courtesy pacing hint for well-behaved clients; set on the snapshot
	// only, the stored record is never mutated by a GET.
	if rec.Status == task.StatusPending {
		rec.RetryAfterMs = int(a.pollHint.Milliseconds())
	}
	c.JSON(http.StatusOK, rec)
}

// ConvertDoc is the synchronous document path: DOCX in, PDF bytes out.
func (a *API) ConvertDoc(c *gin.Context) {
	a.convertInline(c, convert.CategoryDoc, "pdf")
}

// ConvertVector is the synchronous vector path: EPS/AI in, SVG or PNG out.
func (a *API) ConvertVector(c *gin.Context) {
	a.convertInline(c, convert.CategoryVector, "svg")
}

func (a *API) convertInline(c *gin.Context, category convert.Category, defaultTarget string) {
	req, ok := a.readUpload(c, category)
	if !ok {
		return
	}
	if req.TargetFormat == "" {
		req.TargetFormat = defaultTarget
	}

	res, err := a.scheduler.ConvertInline(c.Request.Context(), req)
	if err != nil {
		a.writeConvertError(c, err)
		return
	}
	c.Data(http.StatusOK, res.MIME, res.Data)
}

// readUpload parses the multipart body into a conversion request. The size
// cap is checked against the declared part size before the body is buffered,
// so oversized uploads are rejected without committing memory to them.
func (a *API) readUpload(c *gin.Context, category convert.Category) (convert.Request, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		log.Warn().Err(err).Msg("missing file part in upload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return convert.Request{}, false
	}

	if err := convert.Validate(header.Filename, header.Size, nil, category); err != nil {
		a.writeConvertError(c, err)
		return convert.Request{}, false
	}

	src, err := header.Open()
	if err != nil {
		log.Error().Err(err).Msg("open uploaded part failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return convert.Request{}, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, convert.MaxUploadBytes+1))
	if err != nil {
		log.Error().Err(err).Msg("read uploaded part failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return convert.Request{}, false
	}

	return convert.Request{
		Data:         data,
		Filename:     header.Filename,
		TargetFormat: c.PostForm("to"),
		Category:     category,
	}, true
}

func (a *API) writeConvertError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, convert.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, convert.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, convert.ErrToolUnavailable):
		status = http.StatusServiceUnavailable
	}

	evt := log.Warn()
	if status == http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).Int("status", status).Str("path", c.FullPath()).Msg("conversion request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
