// Package serve is the read-only JSON boundary the dashboards query.
package serve

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/maxz073/finm-dashboard/internal/excerpt"
	"github.com/maxz073/finm-dashboard/internal/metrics"
	"github.com/maxz073/finm-dashboard/internal/model"
	"github.com/maxz073/finm-dashboard/internal/provider"
)

// Response sources.
const (
	SourceExcerpt  = "excerpt"
	SourceFallback = "fallback"
)

// Fetcher serves the fallback when no excerpt is readable.
type Fetcher interface {
	Fetch(ctx context.Context, entities []string, r model.DateRange) (*model.Dataset, error)
}

// Options configure a Server.
type Options struct {
	Paths    excerpt.Paths // CSV, Parquet and Metadata of the excerpt
	Fallback Fetcher
	Range    model.DateRange // fallback range
	Logger   *slog.Logger
}

// Server answers dashboard queries from the persisted excerpt.
type Server struct {
	opts   Options
	logger *slog.Logger

	group    singleflight.Group
	mu       sync.Mutex
	fallback *PricesResponse // kept for the server's lifetime once fetched
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, logger: logger.With("component", "serve")}
}

// Observation is the wire form of one price.
type Observation struct {
	EntityID string `json:"entity_id"`
	Date     string `json:"date"`
	Price    string `json:"price"`
	Volume   *int64 `json:"volume,omitempty"`
	Return   string `json:"return,omitempty"`
}

// PricesResponse is returned by GET /api/prices.
type PricesResponse struct {
	Source       string           `json:"source"`
	Provenance   model.Provenance `json:"provenance,omitempty"`
	Entity       string           `json:"entity,omitempty"`
	Count        int              `json:"count"`
	Observations []Observation    `json:"observations"`
}

// App builds the fiber application with every route mounted.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Get("/metadata", s.getMetadata)
	api.Get("/prices", s.getPrices)
	api.Get("/entities", s.getEntities)
	return app
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	app := s.App()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", addr, "parquet", s.opts.Paths.Parquet)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return app.ShutdownWithContext(shutdownCtx)
	})
	return g.Wait()
}

// GET /api/metadata
func (s *Server) getMetadata(c *fiber.Ctx) error {
	meta, err := excerpt.ReadMetadata(s.opts.Paths.Metadata)
	if err != nil {
		metrics.APIRequests.WithLabelValues("metadata", "none").Inc()
		s.logger.Debug("metadata unavailable", "error", err)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "metadata not found; run the pipeline first",
		})
	}
	metrics.APIRequests.WithLabelValues("metadata", SourceExcerpt).Inc()
	return c.JSON(meta)
}

// GET /api/prices?entity=X
func (s *Server) getPrices(c *fiber.Ctx) error {
	entity := strings.ToUpper(strings.TrimSpace(c.Query("entity")))

	resp, err := s.loadPrices(c.UserContext())
	if err != nil {
		metrics.APIRequests.WithLabelValues("prices", "none").Inc()
		s.logger.Error("prices unavailable", "error", err)
		status := fiber.StatusInternalServerError
		if errors.Is(err, provider.ErrDataUnavailable) || errors.Is(err, provider.ErrSourceUnavailable) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	metrics.APIRequests.WithLabelValues("prices", resp.Source).Inc()

	if entity != "" {
		var kept []Observation
		for _, o := range resp.Observations {
			if o.EntityID == entity {
				kept = append(kept, o)
			}
		}
		if len(kept) == 0 {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":  "unknown entity " + entity,
				"source": resp.Source,
			})
		}
		resp.Entity = entity
		resp.Observations = kept
	}
	resp.Count = len(resp.Observations)
	return c.JSON(resp)
}

// GET /api/entities
func (s *Server) getEntities(c *fiber.Ctx) error {
	if meta, err := excerpt.ReadMetadata(s.opts.Paths.Metadata); err == nil {
		metrics.APIRequests.WithLabelValues("entities", SourceExcerpt).Inc()
		return c.JSON(fiber.Map{"source": SourceExcerpt, "entities": meta.EntityIDs})
	}
	metrics.APIRequests.WithLabelValues("entities", SourceFallback).Inc()
	return c.JSON(fiber.Map{"source": SourceFallback, "entities": provider.DefaultEntities})
}

// loadPrices reads the excerpt, or asks the fallback for the fixed entity
// set when neither excerpt file is readable.
func (s *Server) loadPrices(ctx context.Context) (*PricesResponse, error) {
	rows, from, err := excerpt.Load(s.opts.Paths)
	if err == nil {
		resp := &PricesResponse{Source: SourceExcerpt, Observations: toWire(rows)}
		if meta, merr := excerpt.ReadMetadata(s.opts.Paths.Metadata); merr == nil {
			resp.Provenance = meta.Provenance
		}
		s.logger.Debug("prices from excerpt", "file", from, "rows", len(rows))
		return resp, nil
	}
	if s.opts.Fallback == nil {
		return nil, err
	}
	s.logger.Warn("excerpt unreadable, using fallback", "error", err)
	return s.fallbackPrices(ctx)
}

// fallbackPrices fetches the fixed entity set on first use and serves that
// result afterwards. Concurrent first requests share one fetch; a failed
// fetch is retried by the next request.
func (s *Server) fallbackPrices(ctx context.Context) (*PricesResponse, error) {
	s.mu.Lock()
	cached := s.fallback
	s.mu.Unlock()
	if cached == nil {
		v, err, _ := s.group.Do("fallback", func() (any, error) {
			ds, err := s.opts.Fallback.Fetch(ctx, provider.DefaultEntities, s.opts.Range)
			if err != nil {
				return nil, err
			}
			resp := &PricesResponse{
				Source:       SourceFallback,
				Provenance:   ds.Provenance,
				Observations: toWire(ds.Observations),
			}
			s.mu.Lock()
			s.fallback = resp
			s.mu.Unlock()
			return resp, nil
		})
		if err != nil {
			return nil, err
		}
		cached = v.(*PricesResponse)
	}
	resp := *cached
	return &resp, nil
}

func toWire(rows []model.PriceObservation) []Observation {
	out := make([]Observation, len(rows))
	for i, r := range rows {
		out[i] = Observation{
			EntityID: r.EntityID,
			Date:     r.Date.Format(model.DateLayout),
			Price:    r.Price.StringFixed(model.PriceScale),
			Volume:   r.Volume,
		}
		if r.Return != nil {
			out[i].Return = r.Return.StringFixed(model.ReturnScale)
		}
	}
	return out
}
