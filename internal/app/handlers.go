package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"livemap.onebusaway.org/internal/engine"
	"livemap.onebusaway.org/internal/models"
	"livemap.onebusaway.org/internal/report"
)

// maxSelectionBody caps PUT /v1/selection. A selection of every route in a
// large agency is a few tens of KiB.
const maxSelectionBody = 1 << 20

var validate = validator.New()

// HealthStatus is the body of /v1/healthcheck. Ready is true only while the
// feed connection is open, so load balancers route away from an instance that
// has lost its feed.
type HealthStatus struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
	Connection  string `json:"connection"`
	Lagging     bool   `json:"lagging"`
	Vehicles    int    `json:"vehicles"`
	Ready       bool   `json:"ready"`
}

func (app *Application) healthcheckHandler(w http.ResponseWriter, r *http.Request) {
	status, ok := app.Engine.LatestStatus()
	if !ok {
		status.State = models.Connecting
	}
	ready := status.State == models.Open

	health := HealthStatus{
		Status:      "available",
		Environment: app.Env,
		Version:     app.Version,
		Connection:  status.State.String(),
		Lagging:     status.Lagging,
		Vehicles:    status.Vehicles,
		Ready:       ready,
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	app.writeJSON(w, code, health)
}

func (app *Application) statusHandler(w http.ResponseWriter, r *http.Request) {
	_, status, err := app.Engine.Snapshot(r.Context())
	if err != nil {
		app.engineError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, status)
}

func (app *Application) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	var (
		vehicles []models.Vehicle
		err      error
	)
	if all {
		vehicles, err = app.Engine.AllVehicles(r.Context())
	} else {
		var view engine.View
		view, _, err = app.Engine.Snapshot(r.Context())
		vehicles = view.Vehicles
	}
	if err != nil {
		app.engineError(w, r, err)
		return
	}
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}
	app.writeJSON(w, http.StatusOK, vehicles)
}

func (app *Application) routesHandler(w http.ResponseWriter, r *http.Request) {
	view, _, err := app.Engine.Snapshot(r.Context())
	if err != nil {
		app.engineError(w, r, err)
		return
	}
	routes := view.Routes
	if routes == nil {
		routes = []models.RouteGeometry{}
	}
	app.writeJSON(w, http.StatusOK, routes)
}

func (app *Application) routeOptionsHandler(w http.ResponseWriter, r *http.Request) {
	options, err := app.Engine.RouteOptions(r.Context())
	if err != nil {
		app.engineError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, options)
}

func (app *Application) getSelectionHandler(w http.ResponseWriter, r *http.Request) {
	view, _, err := app.Engine.Snapshot(r.Context())
	if err != nil {
		app.engineError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, view.Selection)
}

type selectionInput struct {
	Value string `json:"value" validate:"required,max=64"`
	Label string `json:"label" validate:"max=256"`
}

// putSelectionHandler replaces the route selection. Options sent without a
// label get the label the route selector would show for them.
func (app *Application) putSelectionHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSelectionBody)

	var input []selectionInput
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		app.writeError(w, http.StatusBadRequest, fmt.Sprintf("selection must be a JSON array of {value, label}: %v", err))
		return
	}
	for i := range input {
		if err := validate.Struct(input[i]); err != nil {
			app.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("option %d: %v", i, err))
			return
		}
	}

	labels := map[string]string{}
	if options, err := app.Engine.RouteOptions(r.Context()); err == nil {
		for _, o := range options {
			labels[o.Value] = o.Label
		}
	}

	options := make([]models.RouteOption, 0, len(input))
	for _, in := range input {
		label := in.Label
		if label == "" {
			label = labels[in.Value]
		}
		if label == "" {
			label = in.Value
		}
		options = append(options, models.RouteOption{Value: in.Value, Label: label})
	}
	sel := models.NewRouteSelection(options...)

	if err := app.Engine.SetSelection(r.Context(), sel); err != nil {
		app.engineError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, sel)
}

func (app *Application) engineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, engine.ErrNotRunning) {
		app.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if r.Context().Err() != nil {
		// Client went away; nothing to answer.
		return
	}
	app.Logger.Error("Engine request failed", "path", r.URL.Path, "error", err)
	report.ReportError(err)
	app.writeError(w, http.StatusInternalServerError, "internal error")
}

func (app *Application) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Warn("Failed to write response", "error", err)
	}
}

func (app *Application) writeError(w http.ResponseWriter, code int, message string) {
	app.writeJSON(w, code, map[string]string{"error": message})
}
