// Package zoneapi is the reference zone backend: zone list storage per
// source and a synthetic frame endpoint, served with fiber.
package zoneapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/render"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/store"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// Repository is the zone persistence used by the API.
type Repository interface {
	List(ctx context.Context, source string) (zone.List, error)
	Replace(ctx context.Context, source string, zones zone.List, removeMissing bool) (zone.List, error)
	Sources(ctx context.Context) ([]string, error)
	SetCounters(ctx context.Context, source, id string, c zone.Counters) (bool, error)
}

// Config configures the API.
type Config struct {
	// PublicURL prefixes frame URLs. Empty yields root-relative URLs.
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AccessLog enables the request logger middleware.
	AccessLog bool
}

// DefaultConfig returns the API defaults.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		AccessLog:    true,
	}
}

type handler struct {
	repo      Repository
	publicURL string
	log       *logger.Module

	frameOnce sync.Once
	frame     []byte
	frameErr  error
}

// New builds the fiber app serving repo.
func New(repo Repository, cfg Config) *fiber.App {
	h := &handler{
		repo:      repo,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		log:       logger.For("ZoneAPI"),
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		AppName:      "Zone Backend",
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"*"},
		AllowMethods: []string{"GET", "PUT", "OPTIONS"},
	}))

	app.Get("/health/live", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "alive"})
	})

	api := app.Group("/api/sources")
	api.Get("/", h.listSources)
	api.Get("/:id/zones", h.getZones)
	api.Put("/:id/zones", h.putZones)
	api.Put("/:id/zones/:zone/counters", h.putCounters)
	api.Get("/:id/frame_url", h.frameURL)

	app.Get("/frames/:file", h.frameImage)

	return app
}

// errorHandler renders every error as {"error": message}.
func errorHandler(c fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func sourceParam(c fiber.Ctx) (string, error) {
	raw := c.Params("id")
	id, err := url.PathUnescape(raw)
	if err != nil {
		id = raw
	}
	if strings.TrimSpace(id) == "" {
		return "", fiber.NewError(http.StatusBadRequest, "source id required")
	}
	return id, nil
}

type zonesPayload struct {
	Zones zone.List `json:"zones"`
}

func (h *handler) listSources(c fiber.Ctx) error {
	sources, err := h.repo.Sources(c.Context())
	if err != nil {
		return err
	}
	if sources == nil {
		sources = []string{}
	}
	return c.JSON(fiber.Map{"sources": sources})
}

func (h *handler) getZones(c fiber.Ctx) error {
	source, err := sourceParam(c)
	if err != nil {
		return err
	}
	zones, err := h.repo.List(c.Context(), source)
	if err != nil {
		return err
	}
	return c.JSON(zonesPayload{Zones: zones})
}

func (h *handler) putZones(c fiber.Ctx) error {
	source, err := sourceParam(c)
	if err != nil {
		return err
	}
	if len(c.Body()) == 0 {
		return fiber.NewError(http.StatusBadRequest, "empty body")
	}
	var req zonesPayload
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid json: "+err.Error())
	}
	removeMissing := false
	if v := c.Query("remove_missing"); v != "" {
		if removeMissing, err = strconv.ParseBool(v); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid remove_missing")
		}
	}

	stored, err := h.repo.Replace(c.Context(), source, req.Zones, removeMissing)
	if errors.Is(err, store.ErrInvalid) {
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		return err
	}
	h.log.Info("saved %d zones for %s", len(stored), source)
	return c.JSON(zonesPayload{Zones: stored})
}

func (h *handler) putCounters(c fiber.Ctx) error {
	source, err := sourceParam(c)
	if err != nil {
		return err
	}
	var counters zone.Counters
	if err := json.Unmarshal(c.Body(), &counters); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid json")
	}
	ok, err := h.repo.SetCounters(c.Context(), source, c.Params("zone"), counters)
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(http.StatusNotFound, "zone not found")
	}
	return c.SendStatus(http.StatusNoContent)
}

func (h *handler) frameURL(c fiber.Ctx) error {
	source, err := sourceParam(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"url": h.publicURL + "/frames/" + url.PathEscape(source) + ".jpg"})
}

// frameImage serves a colour-bar test frame for every source.
func (h *handler) frameImage(c fiber.Ctx) error {
	if !strings.HasSuffix(c.Params("file"), ".jpg") {
		return fiber.NewError(http.StatusNotFound, "frame not found")
	}
	h.frameOnce.Do(func() {
		h.frame, h.frameErr = render.EncodeJPEG(render.ColorBars(1280, 720), 75)
	})
	if h.frameErr != nil {
		return h.frameErr
	}
	c.Set("Content-Type", "image/jpeg")
	c.Set("Cache-Control", "no-cache")
	return c.Send(h.frame)
}
