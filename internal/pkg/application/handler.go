package application

import (
	"compress/flate"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	ngsi "github.com/iot-for-tillgenglighet/ngsi-ld-golang/pkg/ngsi-ld"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/devices"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/navigation"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/notify"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/store"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/messaging"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/platform"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/push"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/repositories/database"
)

//SessionHeader identifies the dashboard session a request belongs to
const SessionHeader = "X-Dashboard-Session"

const defaultEventLimit = 50

//Platform is everything the dashboard asks of the remote REST platform
type Platform interface {
	devices.Platform
	navigation.Platform
}

type RequestRouter struct {
	impl *chi.Mux
}

//Get accepts a pattern that should be routed to the handlerFn on a GET request
func (router *RequestRouter) Get(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Get(pattern, handlerFn)
}

//Post accepts a pattern that should be routed to the handlerFn on a POST request
func (router *RequestRouter) Post(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Post(pattern, handlerFn)
}

//Put accepts a pattern that should be routed to the handlerFn on a PUT request
func (router *RequestRouter) Put(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Put(pattern, handlerFn)
}

//Delete accepts a pattern that should be routed to the handlerFn on a DELETE request
func (router *RequestRouter) Delete(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Delete(pattern, handlerFn)
}

func (router *RequestRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router.impl.ServeHTTP(w, r)
}

func newRequestRouter(allowedOrigins []string) *RequestRouter {
	router := &RequestRouter{impl: chi.NewRouter()}

	router.impl.Use(cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", SessionHeader},
		ExposedHeaders:   []string{SessionHeader},
		AllowCredentials: true,
		Debug:            false,
	}).Handler)

	// Enable gzip compression for json and ngsi-ld responses
	compressor := middleware.NewCompressor(flate.DefaultCompression, "application/json", "application/ld+json")
	router.impl.Use(compressor.Handler)
	router.impl.Use(middleware.Logger)
	router.impl.Use(forwardToken)

	return router
}

//dashboard holds the services the http handlers delegate to
type dashboard struct {
	controller *devices.Controller
	sessions   *navigation.Sessions
	store      *store.Store
	events     database.Datastore
	hub        *push.Hub
	log        logging.Logger
}

func newDashboard(cfg *config.Config, log logging.Logger, p Platform, messenger messaging.MessagingContext, db database.Datastore) *dashboard {
	s := store.New()
	hub := push.NewHub(log, originChecker(cfg.Service.AllowedOrigins))
	s.Subscribe(hub.OnChange)

	notifiers := notify.Multi{hub}
	if messenger != nil {
		publisher := messaging.NewPublisher(messenger, log)
		s.Subscribe(publisher.OnChange)
		notifiers = append(notifiers, publisher)
	}

	return &dashboard{
		controller: devices.NewController(p, s, notifiers, db, log),
		sessions:   navigation.NewSessions(p, s, db, log, cfg.Platform.CountConcurrency),
		store:      s,
		events:     db,
		hub:        hub,
		log:        log,
	}
}

func createRequestRouter(cfg *config.Config, d *dashboard) *RequestRouter {
	router := newRequestRouter(cfg.Service.AllowedOrigins)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "clients": d.hub.Clients()})
	})

	router.Get("/api/groups/{groupId}/workspace", d.getWorkspace)
	router.Post("/api/groups/{groupId}/workspace/houses/{houseId}", d.selectHouse)
	router.Post("/api/groups/{groupId}/workspace/spaces/{spaceId}", d.selectSpace)
	router.Post("/api/groups/{groupId}/workspace/back", d.back)

	router.Post("/api/devices/link", d.linkDevice)
	router.Get("/api/devices/{deviceId}", d.getDevice)
	router.Delete("/api/devices/{deviceId}", d.deleteDevice)
	router.Post("/api/devices/{deviceId}/power", d.togglePower)
	router.Post("/api/devices/{deviceId}/lock", d.setLock(true))
	router.Post("/api/devices/{deviceId}/unlock", d.setLock(false))
	router.Put("/api/devices/{deviceId}/space", d.moveDevice)
	router.Get("/api/devices/{deviceId}/events", d.getDeviceEvents)

	router.impl.Handle("/api/ws", d.hub)

	contextRegistry := createContextRegistry(d.log, d.store)
	router.Get("/ngsi-ld/v1/entities", ngsi.NewQueryEntitiesHandler(contextRegistry))
	router.Get("/ngsi-ld/v1/entities/{entity}", ngsi.NewRetrieveEntityHandler(contextRegistry))

	return router
}

//CreateRouterAndStartServing wires the dashboard services and starts serving incoming requests
func CreateRouterAndStartServing(cfg *config.Config, log logging.Logger, messenger messaging.MessagingContext, db database.Datastore) {
	timeout, err := cfg.Platform.RequestTimeout()
	if err != nil {
		log.Fatalf("Invalid platform timeout %s: %s", cfg.Platform.Timeout, err.Error())
	}

	client := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Token, timeout)
	d := newDashboard(cfg, log, client, messenger, db)
	defer d.hub.Close()

	router := createRequestRouter(cfg, d)

	log.Infof("Starting %s on port %s.\n", cfg.Service.Name, cfg.Service.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Service.Port, router.impl))
}

func (d *dashboard) workspace(w http.ResponseWriter, r *http.Request) (*navigation.Workspace, string, bool) {
	sessionID := sessionFrom(w, r)

	ws, err := d.sessions.Workspace(r.Context(), sessionID, chi.URLParam(r, "groupId"))
	if err != nil {
		d.writeError(w, err)
		return nil, sessionID, false
	}

	return ws, sessionID, true
}

func (d *dashboard) getWorkspace(w http.ResponseWriter, r *http.Request) {
	if ws, _, ok := d.workspace(w, r); ok {
		writeJSON(w, http.StatusOK, ws.View())
	}
}

func (d *dashboard) selectHouse(w http.ResponseWriter, r *http.Request) {
	d.transition(w, r, func(ws *navigation.Workspace) error {
		return ws.SelectHouse(r.Context(), chi.URLParam(r, "houseId"))
	})
}

func (d *dashboard) selectSpace(w http.ResponseWriter, r *http.Request) {
	d.transition(w, r, func(ws *navigation.Workspace) error {
		return ws.SelectSpace(r.Context(), chi.URLParam(r, "spaceId"))
	})
}

func (d *dashboard) back(w http.ResponseWriter, r *http.Request) {
	d.transition(w, r, func(ws *navigation.Workspace) error {
		ws.Back()
		return nil
	})
}

func (d *dashboard) transition(w http.ResponseWriter, r *http.Request, fn func(ws *navigation.Workspace) error) {
	ws, sessionID, ok := d.workspace(w, r)
	if !ok {
		return
	}

	if err := fn(ws); err != nil {
		d.writeError(w, err)
		return
	}

	d.sessions.Save(sessionID, ws)
	writeJSON(w, http.StatusOK, ws.View())
}

//getDevice answers with the summary based view when the detail fetch fails
func (d *dashboard) getDevice(w http.ResponseWriter, r *http.Request) {
	view, err := d.controller.Detail(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		if errors.Is(err, store.ErrUnknownDevice) {
			d.writeError(w, err)
			return
		}
		w.Header().Set("Warning", `199 - "detail unavailable"`)
	}

	writeJSON(w, http.StatusOK, view)
}

func (d *dashboard) togglePower(w http.ResponseWriter, r *http.Request) {
	view, err := d.controller.TogglePower(r.Context(), chi.URLParam(r, "deviceId"))
	d.writeDevice(w, view, err)
}

func (d *dashboard) setLock(lock bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := d.controller.SetLock(r.Context(), chi.URLParam(r, "deviceId"), lock)
		d.writeDevice(w, view, err)
	}
}

type moveRequestBody struct {
	SpaceID string `json:"space_id"`
	Name    string `json:"name"`
}

func (d *dashboard) moveDevice(w http.ResponseWriter, r *http.Request) {
	body := moveRequestBody{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SpaceID == "" {
		writeMessage(w, http.StatusBadRequest, "space_id is required")
		return
	}

	view, err := d.controller.Move(r.Context(), chi.URLParam(r, "deviceId"), body.SpaceID, strings.TrimSpace(body.Name))
	d.writeDevice(w, view, err)
}

func (d *dashboard) linkDevice(w http.ResponseWriter, r *http.Request) {
	req := platform.LinkRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SerialNumber == "" || req.SpaceID == "" {
		writeMessage(w, http.StatusBadRequest, "serial_number and space_id are required")
		return
	}

	view, err := d.controller.Link(r.Context(), req)
	if err != nil {
		d.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (d *dashboard) deleteDevice(w http.ResponseWriter, r *http.Request) {
	err := d.controller.Delete(r.Context(), chi.URLParam(r, "deviceId"), r.URL.Query().Get("groupId"))
	if err != nil {
		d.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (d *dashboard) getDeviceEvents(w http.ResponseWriter, r *http.Request) {
	if d.events == nil {
		writeMessage(w, http.StatusServiceUnavailable, "event history is not available")
		return
	}

	limit := defaultEventLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	events, err := d.events.GetDeviceEvents(chi.URLParam(r, "deviceId"), limit)
	if err != nil {
		d.log.Errorf("Failed to read device events: %s", err.Error())
		writeMessage(w, http.StatusInternalServerError, platform.FallbackMessage)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (d *dashboard) writeDevice(w http.ResponseWriter, view store.DeviceView, err error) {
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (d *dashboard) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		d.log.Errorf("Request failed: %s", err.Error())
	}
	writeMessage(w, status, devices.UserMessage(err))
}

func statusFor(err error) int {
	var apiErr *platform.APIError

	switch {
	case errors.Is(err, store.ErrUnknownDevice),
		errors.Is(err, navigation.ErrUnknownHouse),
		errors.Is(err, navigation.ErrUnknownSpace):
		return http.StatusNotFound
	case errors.Is(err, store.ErrBusy),
		errors.Is(err, devices.ErrControlsDisabled),
		errors.Is(err, devices.ErrDeviceLocked),
		errors.Is(err, navigation.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, platform.ErrTransport):
		return http.StatusBadGateway
	case errors.As(err, &apiErr):
		if apiErr.Status >= http.StatusBadRequest {
			return apiErr.Status
		}
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

//forwardToken passes the caller's bearer token on to platform requests
func forwardToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if token := strings.TrimPrefix(auth, "Bearer "); token != auth && token != "" {
			r = r.WithContext(platform.WithToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

//sessionFrom returns the session of the request, minting a new one when the header is missing
func sessionFrom(w http.ResponseWriter, r *http.Request) string {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	w.Header().Set(SessionHeader, sessionID)
	return sessionID
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return nil
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
