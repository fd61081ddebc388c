package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/cascadiabits/bridgealign/affine"
	"github.com/cascadiabits/bridgealign/geotransform"
	"github.com/cascadiabits/bridgealign/internal/stats"
	"github.com/cascadiabits/bridgealign/matrixstore"
	"github.com/cascadiabits/bridgealign/server"
	"github.com/cascadiabits/bridgealign/transformcache"
	"github.com/cascadiabits/bridgealign/validator"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/fogleman/poissondisc"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	_ "net/http/pprof"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"
)

func main() {
	app := &cli.App{
		Name:        "bridgealign",
		Description: "Drawbridge coordinate reconciliation service",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the coordinate transformation api",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "store",
						Aliases:   []string{"s"},
						TakesFile: true,
						Usage:     "matrix store file, empty disables disk persistence",
					},
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8080",
					},
					&cli.IntFlag{
						Name:  "matrix-capacity",
						Value: 128,
					},
					&cli.IntFlag{
						Name:  "point-capacity",
						Value: 8192,
					},
					&cli.DurationFlag{
						Name:  "point-ttl",
						Value: 5 * time.Minute,
					},
					&cli.BoolFlag{
						Name:  "no-point-cache",
						Usage: "disable the transformed point cache tier",
					},
					&cli.IntFlag{
						Name:  "quantize-precision",
						Value: 5,
					},
					&cli.IntFlag{
						Name:  "prewarm-top-n",
						Value: 64,
					},
					&cli.BoolFlag{
						Name:  "no-prewarm",
						Usage: "skip matrix cache prewarming on startup",
					},
					&cli.StringFlag{
						Name:        "pprof.listen",
						DefaultText: "",
					},
				},
				Action: serve,
			},
			{
				Name:  "prewarm",
				Usage: "load the most used matrices from a store into a cache and report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "store",
						Aliases:   []string{"s"},
						Required:  true,
						TakesFile: true,
					},
					&cli.IntFlag{
						Name:  "top-n",
						Value: 64,
					},
				},
				Action: prewarm,
			},
			{
				Name:  "bench",
				Usage: "run a synthetic transformation load and report runtime stats",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "points",
						Value: 100_000,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Value: 4096,
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Value: 1024,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Value: 4,
					},
					&cli.BoolFlag{
						Name:        "pprof.profile",
						DefaultText: "",
					},
				},
				Action: bench,
			},
			{
				Name:  "compact",
				Usage: "rewrite a matrix store keeping only live records",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "store",
						Aliases:   []string{"s"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "out",
						Aliases:   []string{"o"},
						Required:  true,
						TakesFile: true,
						Usage:     "output path, a .zst suffix enables compression",
					},
				},
				Action: compact,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx *cli.Context) error {
	logger := slog.Default().With("instance_id", uuid.NewString())

	if pprofListen := ctx.String("pprof.listen"); pprofListen != "" {
		go func() {
			logger.Info("Starting pprof server")
			err := http.ListenAndServe(pprofListen, nil)
			if err != nil {
				logger.Error("Error starting pprof server", "error", err)
			}
		}()
	}

	cfg := transformcache.Config{
		MatrixCapacity:    ctx.Int("matrix-capacity"),
		PointCapacity:     ctx.Int("point-capacity"),
		PointTTL:          ctx.Duration("point-ttl"),
		EnablePointCache:  !ctx.Bool("no-point-cache"),
		QuantizePrecision: ctx.Int("quantize-precision"),
	}
	cache, err := transformcache.New(cfg)
	if err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	opts := []geotransform.Option{
		geotransform.WithLogger(logger),
	}

	var store *matrixstore.Store
	if path := ctx.String("store"); path != "" {
		store, err = matrixstore.Open(path, logger)
		if err != nil {
			return fmt.Errorf("failed to open matrix store: %w", err)
		}
		defer store.Close()
		opts = append(opts, geotransform.WithStore(store))
	}

	calc, err := affine.SeattleCalculator()
	if err != nil {
		return err
	}
	engine, err := geotransform.NewEngine(calc, cache, opts...)
	if err != nil {
		return err
	}

	if store != nil {
		engine.Prewarm(!ctx.Bool("no-prewarm"), store, ctx.Int("prewarm-top-n"))
	}

	vld := validator.New(engine, validator.DefaultThresholds(), validator.SeattleRefIndex(), logger)

	return server.Run(ctx.Context, ctx.String("listen"), engine, vld)
}

func prewarm(ctx *cli.Context) error {
	logger := slog.Default()

	store, err := matrixstore.Open(ctx.String("store"), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := transformcache.New(transformcache.DefaultConfig())
	if err != nil {
		return err
	}

	res := geotransform.Prewarm(true, store, ctx.Int("top-n"), cache.SetMatrix)
	fmt.Printf("Loaded %d of %d matrices in %.3fs\n", res.Loaded, res.Attempted, res.DurationSeconds())
	return nil
}

// seattle drawbridge corridor, roughly Duwamish to the Ship Canal
const (
	benchLatMin = 47.52
	benchLatMax = 47.66
	benchLonMin = -122.40
	benchLonMax = -122.28
)

func bench(ctx *cli.Context) error {
	logger := slog.Default()

	if ctx.Bool("pprof.profile") {
		f, err := os.OpenFile("profile.cpu.pprof", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("error creating pprof file: %w", err)
		}
		err = pprof.StartCPUProfile(f)
		if err != nil {
			return fmt.Errorf("error starting pprof: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	total := ctx.Int("points")
	batchSize := ctx.Int("batch-size")

	fmt.Printf("Generating %s points\n", humanize.Comma(int64(total)))
	points := generateBenchPoints(total)

	cache, err := transformcache.New(transformcache.DefaultConfig())
	if err != nil {
		return err
	}
	calc, err := affine.SeattleCalculator()
	if err != nil {
		return err
	}
	engine, err := geotransform.NewEngine(calc, cache,
		geotransform.WithLogger(logger),
		geotransform.WithChunkSize(ctx.Int("chunk-size")),
		geotransform.WithConcurrencyCap(ctx.Int("concurrency")),
	)
	if err != nil {
		return err
	}

	collector, err := stats.NewCollector(100 * time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to create stats collector: %w", err)
	}
	collector.Start()

	bar := pb.StartNew(len(points))
	for start := 0; start < len(points); start += batchSize {
		end := min(start+batchSize, len(points))
		_, err := engine.TransformBatch(ctx.Context, points[start:end], affine.SystemSDOTFeed, affine.SystemReference, "")
		if err != nil {
			bar.Finish()
			collector.Stop()
			return fmt.Errorf("batch starting at %d failed: %w", start, err)
		}
		bar.Add(end - start)
	}
	bar.Finish()

	summary := collector.Stop()
	throughput := float64(len(points)) / summary.Elapsed.Seconds()
	fmt.Printf("Bench complete: %s points in %s (%s points/s)\n",
		humanize.Comma(int64(len(points))),
		summary.Elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(throughput, 0),
	)
	fmt.Printf("Runtime: %s\n", summary)

	cstats := cache.Stats()
	fmt.Printf("Cache: matrix hits=%d misses=%d, point hits=%d misses=%d evictions=%d\n",
		cstats.MatrixHits, cstats.MatrixMisses, cstats.PointHits, cstats.PointMisses, cstats.PointEvictions)
	return nil
}

// generateBenchPoints fills the corridor with a poisson-disc sample and tops
// it up with repeats so cache hits show up in the run.
func generateBenchPoints(n int) [][2]float64 {
	sampled := poissondisc.Sample(benchLonMin, benchLatMin, benchLonMax, benchLatMax, 0.0004, 30, nil)

	points := make([][2]float64, 0, n)
	for i := 0; i < n; i++ {
		p := sampled[i%len(sampled)]
		points = append(points, [2]float64{p.Y, p.X})
	}
	return points
}

func compact(ctx *cli.Context) error {
	logger := slog.Default()

	store, err := matrixstore.Open(ctx.String("store"), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	outPath := ctx.String("out")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()

	var w io.Writer = out
	var enc *zstd.Encoder
	if strings.HasSuffix(outPath, ".zst") {
		enc, err = zstd.NewWriter(out)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w = enc
	}

	bar := pb.StartNew(store.Len())
	written, err := store.Compact(w, func(rec *matrixstore.Record) {
		bar.Increment()
	})
	bar.Finish()
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to flush compressed output: %w", err)
		}
	}

	info, err := out.Stat()
	if err == nil {
		fmt.Printf("Compacted %d records to %s (%s)\n", written, outPath, humanize.Bytes(uint64(info.Size())))
	} else {
		fmt.Printf("Compacted %d records to %s\n", written, outPath)
	}
	return nil
}
