package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/weather-indicator/internal/cloud"
	"github.com/i474232898/weather-indicator/internal/led"
	"github.com/i474232898/weather-indicator/internal/store"
	"github.com/i474232898/weather-indicator/internal/weather"
)

var validate = validator.New()

// History serves stored reports. *weather.Service satisfies it.
type History interface {
	GetLatest(location string) (weather.Report, error)
	GetRange(location string, from, to time.Time) ([]weather.Report, error)
}

// Devices is the device layer the API reads and writes. *cloud.Node satisfies it.
type Devices interface {
	Devices() []cloud.DeviceState
	Write(ctx context.Context, device, param string, value any) error
	Alerts(ctx context.Context, limit int) ([]cloud.Alert, error)
}

// ParamLog lists persisted parameter updates. *storage.SQLite satisfies it.
type ParamLog interface {
	ListParamUpdates(ctx context.Context, device string, limit int) ([]cloud.ParamUpdate, error)
}

// Deps are the collaborators behind the routes. Nil members disable their routes.
type Deps struct {
	History History
	Devices Devices
	Updates ParamLog
	Trigger interface{ Set() }
	LED     interface{ State() led.State }
	Metrics http.Handler
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-indicator",
		})
	})

	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics))
	}

	v1 := app.Group("/api/v1")

	if d.History != nil {
		registerWeather(v1, d.History)
	}
	if d.Trigger != nil {
		v1.Post("/trigger", func(c *fiber.Ctx) error {
			d.Trigger.Set()
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"triggered": true})
		})
	}
	if d.Devices != nil {
		registerDevices(v1, d.Devices)
	}
	if d.Updates != nil {
		registerUpdates(v1, d.Updates)
	}
	if d.LED != nil {
		v1.Get("/led", func(c *fiber.Ctx) error {
			return c.JSON(d.LED.State())
		})
	}
}

func registerWeather(v1 fiber.Router, history History) {
	v1.Get("/weather/latest", func(c *fiber.Ctx) error {
		q := locationQuery{Location: c.Query("location")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		report, err := history.GetLatest(q.Location)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather report for requested location")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather report")
		}
		return c.JSON(report)
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reports, err := history.GetRange(req.Location.Location, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}

		return c.JSON(fiber.Map{
			"location": req.Location.Location,
			"from":     req.From,
			"to":       req.To,
			"reports":  reports,
		})
	})
}

func registerDevices(v1 fiber.Router, devices Devices) {
	v1.Get("/devices", func(c *fiber.Ctx) error {
		return c.JSON(devices.Devices())
	})

	v1.Put("/devices/:device/params/:param", func(c *fiber.Ctx) error {
		var req paramWrite
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		err := devices.Write(c.UserContext(), req.Device, req.Param, req.Value)
		switch {
		case err == nil:
			return c.JSON(fiber.Map{"device": req.Device, "param": req.Param, "value": req.Value})
		case errors.Is(err, cloud.ErrUnknownDevice), errors.Is(err, cloud.ErrUnknownParam):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		case errors.Is(err, cloud.ErrTypeMismatch), errors.Is(err, led.ErrInvalidHue):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(fiber.StatusInternalServerError, "failed to write parameter")
		}
	})

	v1.Get("/alerts", func(c *fiber.Ctx) error {
		q := alertsQuery{Limit: c.QueryInt("limit", 20)}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		alerts, err := devices.Alerts(c.UserContext(), q.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list alerts")
		}
		if alerts == nil {
			alerts = []cloud.Alert{}
		}
		return c.JSON(alerts)
	})
}

func registerUpdates(v1 fiber.Router, updates ParamLog) {
	v1.Get("/devices/:device/updates", func(c *fiber.Ctx) error {
		device, err := url.PathUnescape(c.Params("device"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		q := updatesQuery{Device: device, Limit: c.QueryInt("limit", 50)}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		list, err := updates.ListParamUpdates(c.UserContext(), q.Device, q.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list parameter updates")
		}
		if list == nil {
			list = []cloud.ParamUpdate{}
		}
		return c.JSON(list)
	})
}

type updatesQuery struct {
	Device string `validate:"required,max=64"`
	Limit  int    `validate:"gte=1,lte=500"`
}

// locationQuery selects a location; empty means the most recently reported one.
type locationQuery struct {
	Location string `validate:"max=64"`
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location locationQuery
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.Location = locationQuery{Location: c.Query("location")}

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

type alertsQuery struct {
	Limit int `validate:"gte=1,lte=500"`
}

// paramWrite is a cloud-style write addressed by path, body {"value": ...}.
type paramWrite struct {
	Device string `validate:"required,max=64"`
	Param  string `validate:"required,max=64"`
	Value  any
}

func (p *paramWrite) bind(c *fiber.Ctx) error {
	var err error
	if p.Device, err = url.PathUnescape(c.Params("device")); err != nil {
		return err
	}
	if p.Param, err = url.PathUnescape(c.Params("param")); err != nil {
		return err
	}

	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return errors.New("body must be a JSON object")
	}
	if len(body.Value) == 0 || string(body.Value) == "null" {
		return errors.New("value is required")
	}
	return json.Unmarshal(body.Value, &p.Value)
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
