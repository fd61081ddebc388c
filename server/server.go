package server

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cascadiabits/bridgealign/affine"
	"github.com/cascadiabits/bridgealign/geotransform"
	"github.com/cascadiabits/bridgealign/validator"
)

const MaxBodySize = 32 * 1000 * 1000 // 32MB

var meter = otel.Meter("github.com/cascadiabits/bridgealign/server")

func Run(ctx context.Context, address string, engine *geotransform.Engine, vld *validator.Validator) error {
	if err := setupTelemetry(ctx); err != nil {
		return fmt.Errorf("failed to initialize otel metrics: %w", err)
	}

	log := slog.Default()

	metricTransformCallCount, err := meter.Int64Counter("http_transform_call_total")
	if err != nil {
		return err
	}
	metricBatchCallCount, err := meter.Int64Counter("http_transform_batch_call_total")
	if err != nil {
		return err
	}
	metricValidateCallCount, err := meter.Int64Counter("http_validate_call_total")
	if err != nil {
		return err
	}
	metricPointsCorrected, err := meter.Int64Counter("points_corrected_total")
	if err != nil {
		return err
	}
	s := &server{
		engine: engine,
		vld:    vld,

		metricTransformCallCount: metricTransformCallCount,
		metricBatchCallCount:     metricBatchCallCount,
		metricValidateCallCount:  metricValidateCallCount,
		metricPointsCorrected:    metricPointsCorrected,
	}

	r := router.New()
	r.GET("/transform/{lat}/{lon}", s.TransformHandler)
	r.POST("/transform/batch", s.TransformBatchHandler)
	r.POST("/validate", s.ValidateHandler)
	r.GET("/cache/stats", s.CacheStatsHandler)
	r.Handle(http.MethodGet, "/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	httpServer := &fasthttp.Server{
		ReadTimeout:        time.Second,
		MaxRequestBodySize: MaxBodySize,
		Handler:            r.Handler,
	}

	go func() {
		log.Info("Server listening", "address", address)
		if err := httpServer.ListenAndServe(address); err != nil {
			stdlog.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	slog.Info("Server started")

	// wait cancel
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return httpServer.ShutdownWithContext(shutdownCtx)
}

type server struct {
	engine *geotransform.Engine
	vld    *validator.Validator

	metricTransformCallCount metric.Int64Counter
	metricBatchCallCount     metric.Int64Counter
	metricValidateCallCount  metric.Int64Counter
	metricPointsCorrected    metric.Int64Counter
}

var reqPointsPool = sync.Pool{
	New: func() any {
		return [][2]float64{}
	},
}

func (s *server) TransformHandler(ctx *fasthttp.RequestCtx) {
	s.metricTransformCallCount.Add(ctx, 1)
	s.metricPointsCorrected.Add(ctx, 1)

	latS := ctx.UserValue("lat").(string)
	lonS := ctx.UserValue("lon").(string)

	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		return
	}
	bridgeID := string(ctx.QueryArgs().Peek("bridge"))

	res, err := s.engine.TransformPoint(ctx, lat, lon, affine.SystemSDOTFeed, affine.SystemReference, bridgeID)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusUnprocessableEntity)
		ctx.Response.SetBodyString(err.Error())
		return
	}

	out, err := json.Marshal(res)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString("failed to marshal response")
		return
	}

	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(out)
}

func (s *server) TransformBatchHandler(ctx *fasthttp.RequestCtx) {
	s.metricBatchCallCount.Add(ctx, 1)

	req := reqPointsPool.Get().([][2]float64)[:0] // lat, lon
	defer func() { reqPointsPool.Put(req) }()

	err := unmarshalPointsListFast(ctx.Request.Body(), &req)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString("failed to parse request: " + err.Error())
		return
	}
	bridgeID := string(ctx.QueryArgs().Peek("bridge"))

	s.metricPointsCorrected.Add(ctx, int64(len(req)))

	res, err := s.engine.TransformBatch(ctx, req, affine.SystemSDOTFeed, affine.SystemReference, bridgeID)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusUnprocessableEntity)
		ctx.Response.SetBodyString(err.Error())
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		return
	}

	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(data)
}

func (s *server) ValidateHandler(ctx *fasthttp.RequestCtx) {
	s.metricValidateCallCount.Add(ctx, 1)

	var rec validator.Record
	if err := json.Unmarshal(ctx.Request.Body(), &rec); err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString("failed to parse request: " + err.Error())
		return
	}

	outcome := s.vld.Validate(ctx, rec)
	data, err := json.Marshal(outcome)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		return
	}

	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(data)
}

func (s *server) CacheStatsHandler(ctx *fasthttp.RequestCtx) {
	data, err := json.Marshal(s.engine.Cache().Stats())
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		return
	}
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(data)
}
