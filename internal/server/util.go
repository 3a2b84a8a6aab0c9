package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/craftvisor/internal/errs"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

type errorResp struct {
	Error string    `json:"error"`
	Kind  errs.Kind `json:"kind"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusFor maps an error kind to its HTTP status code.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidState:
		return http.StatusConflict
	case errs.KindMissingArtifact, errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = errs.Timeout("operation did not finish in time")
	}
	kind := errs.KindOf(err)
	writeJSON(c, statusFor(kind), errorResp{Error: err.Error(), Kind: kind})
}

func badRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, errorResp{Error: msg, Kind: "bad_request"})
}

// queryInt parses a non-negative integer query parameter, returning def when
// it is absent.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "invalid "+name+": must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// queryDuration parses a Go duration query parameter, returning def when it
// is absent.
func queryDuration(c *gin.Context, name string, def time.Duration) (time.Duration, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		badRequest(c, "invalid "+name+": must be a duration such as 30s")
		return 0, false
	}
	return d, true
}
