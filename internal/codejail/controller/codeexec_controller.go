// Package controller exposes the local jail over HTTP using the remote
// executor's wire format.
package controller

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"capajail/internal/codejail/canon"
	"capajail/internal/codejail/limits"
	"capajail/internal/codejail/remote"
	"capajail/internal/codejail/safeexec"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	appErr "capajail/pkg/errors"
	"capajail/pkg/utils/contextkey"
	"capajail/pkg/utils/logger"
	"capajail/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ExecPath is the code-exec route.
const ExecPath = "/api/v0/code-exec"

const defaultMaxRequestBytes int64 = 32 << 20

// CodeExecController runs submitted code in the local jail.
type CodeExecController struct {
	jail     spec.Executor
	resolver *limits.Resolver
	policy   *safeexec.UnsafePolicy
	recorder telemetry.Recorder
	maxBytes int64
}

// NewCodeExecController creates a controller. policy may be nil, in which case
// unsafely is never honoured.
func NewCodeExecController(jail spec.Executor, resolver *limits.Resolver, policy *safeexec.UnsafePolicy, recorder telemetry.Recorder) *CodeExecController {
	if resolver == nil {
		resolver = limits.NewResolver(nil, nil, nil)
	}
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	return &CodeExecController{
		jail:     jail,
		resolver: resolver,
		policy:   policy,
		recorder: recorder,
		maxBytes: defaultMaxRequestBytes,
	}
}

// Register mounts the controller routes.
func (h *CodeExecController) Register(r gin.IRoutes) {
	r.POST(ExecPath, h.Exec)
}

// Exec handles one multipart code-exec request.
func (h *CodeExecController) Exec(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	if err := c.Request.ParseMultipartForm(h.maxBytes); err != nil {
		response.BadRequest(c, "Invalid multipart request")
		return
	}
	payload, err := remote.DecodePayload([]byte(c.Request.FormValue(remote.PayloadField)))
	if err != nil {
		response.BadRequest(c, fmt.Sprintf("Invalid payload: %v", err))
		return
	}
	files, err := h.extraFiles(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	req := spec.Request{
		Code:       payload.Code,
		PythonPath: payload.PythonPath,
		ExtraFiles: files,
	}
	if payload.Slug != nil {
		req.Slug = *payload.Slug
		ctx = context.WithValue(ctx, contextkey.Slug, req.Slug)
	}
	if payload.LimitOverridesContext != nil {
		req.LimitOverridesContext = *payload.LimitOverridesContext
		ctx = context.WithValue(ctx, contextkey.LimitOverridesContext, req.LimitOverridesContext)
	}
	req.Limits = h.resolver.Resolve(req.LimitOverridesContext)
	if payload.Unsafely {
		req.Unsafely = h.policy.CanExecuteUnsafeCode(req.LimitOverridesContext)
		if !req.Unsafely {
			logger.Warn(ctx, "unsafe execution refused for context",
				zap.String("limit_overrides_context", req.LimitOverridesContext))
		}
	}
	h.recorder.SetAttribute(ctx, telemetry.AttrExtraFilesCount, len(files))

	globals := payload.GlobalsDict
	err = h.jail.Exec(ctx, req, globals)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, remote.Response{GlobalsDict: canon.JSONSafe(globals)})
	case safeexec.IsSafeExecFailure(err):
		emsg := appErr.GetError(err).Message
		c.JSON(http.StatusOK, remote.Response{Emsg: &emsg, GlobalsDict: canon.JSONSafe(globals)})
	case appErr.Is(err, appErr.InvalidParams):
		response.Error(c, err)
	default:
		response.InternalServerError(c, err)
	}
}

func (h *CodeExecController) extraFiles(c *gin.Context) ([]spec.ExtraFile, error) {
	form := c.Request.MultipartForm
	if form == nil || len(form.File) == 0 {
		return nil, nil
	}
	files := make([]spec.ExtraFile, 0, len(form.File))
	for field, headers := range form.File {
		if len(headers) != 1 {
			return nil, fmt.Errorf("file %q must be sent once", field)
		}
		f, err := headers[0].Open()
		if err != nil {
			return nil, fmt.Errorf("open file %q: %w", field, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", field, err)
		}
		file := spec.ExtraFile{Name: field, Content: data}
		if err := file.Validate(); err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}
