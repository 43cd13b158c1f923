package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Stock Advisor Workflow Service

Turns a trading strategy into ranked stock recommendations using three
advisory agents, then persists the top picks as pending predictions.

## Routes

- GET /healthz
- GET /readyz
- GET /swagger/index.html
- POST /api/v1/strategies/{id}/runs        trigger a run (202, finishes in background)
- GET /api/v1/strategies/{id}/runs         list runs (status, limit, offset)
- GET /api/v1/strategies/{id}/budget       live budget snapshot
- GET /api/v1/strategies/{id}/predictions  list predictions (status, action)
- GET /api/v1/runs/{id}                    run with input, analysis and outputs
- GET /api/v1/runs/{id}/stream             websocket of run status changes
- POST /api/v1/runs/reap                   fail stale running runs now
- POST /api/v1/workflow/prepare-data       external engine: prepare a run
- POST /api/v1/workflow/predictions        external engine: materialize output
- GET /api/v1/schedules                    registered cron entries
- POST /api/v1/schedules/{key}/run         run a registered job now (e.g. reaper)

## Errors

Responses use {code, message, data, meta}. 404 unknown strategy or run,
409 inactive strategy or invalid transition, 422 unusable output,
502 when every agent failed. meta.run_id names the failed run.
`)
	})
}
