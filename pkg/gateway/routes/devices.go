package routes

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/smarthospital/vitals/pkg/common/apierror"
	"github.com/smarthospital/vitals/pkg/common/models"
	"github.com/smarthospital/vitals/pkg/devices"
	"github.com/smarthospital/vitals/pkg/observability/metrics"
	"github.com/smarthospital/vitals/pkg/validation"
)

type DeviceHandler struct {
	validator *validation.Validator
	registry  *devices.Registry
	metrics   *metrics.Metrics
}

func NewDeviceHandler(validator *validation.Validator, registry *devices.Registry, m *metrics.Metrics) *DeviceHandler {
	return &DeviceHandler{validator: validator, registry: registry, metrics: m}
}

// Register mounts the device routes; auth wraps every route that needs a credential.
func (h *DeviceHandler) Register(router *mux.Router, auth func(http.Handler) http.Handler) {
	router.Handle("/devices/register", auth(http.HandlerFunc(h.handleRegister))).Methods(http.MethodPost)
}

func (h *DeviceHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	reg, err := h.validator.DeviceRegistration(body)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			h.metrics.ValidationFailed(validation.SchemaDeviceRegistration)
			apierror.Write(w, apierror.Validation(verr.Fields))
			return
		}
		writeInternal(w, err, "failed to validate registration")
		return
	}

	key, err := h.registry.Register(r.Context(), reg)
	if err != nil {
		if errors.Is(err, devices.ErrDeviceExists) {
			apierror.Write(w, apierror.Conflict("device already registered"))
			return
		}
		if errors.Is(err, devices.ErrInvalidDeviceType) {
			h.metrics.ValidationFailed(validation.SchemaDeviceRegistration)
			apierror.Write(w, apierror.Validation(map[string][]string{"type": {err.Error()}}))
			return
		}
		writeInternal(w, err, "failed to register device")
		return
	}

	apierror.WriteJSON(w, http.StatusCreated, models.RegisterDeviceResponse{
		DeviceID: reg.DeviceID,
		APIKey:   key,
		Status:   "registered",
	})
}
