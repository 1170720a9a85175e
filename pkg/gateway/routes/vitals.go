package routes

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/smarthospital/vitals/pkg/common/apierror"
	"github.com/smarthospital/vitals/pkg/common/logger"
	"github.com/smarthospital/vitals/pkg/common/models"
	"github.com/smarthospital/vitals/pkg/gateway/middleware"
	"github.com/smarthospital/vitals/pkg/observability/metrics"
	"github.com/smarthospital/vitals/pkg/validation"
	"github.com/smarthospital/vitals/pkg/vitals"
)

// IdempotencyHeader takes precedence over the idempotency_key body field.
const IdempotencyHeader = "Idempotency-Key"

type VitalHandler struct {
	validator *validation.Validator
	service   *vitals.Service
	metrics   *metrics.Metrics
}

func NewVitalHandler(validator *validation.Validator, service *vitals.Service, m *metrics.Metrics) *VitalHandler {
	return &VitalHandler{validator: validator, service: service, metrics: m}
}

func (h *VitalHandler) Register(router *mux.Router, auth func(http.Handler) http.Handler) {
	router.Handle("/patients/{id}/vitals", auth(http.HandlerFunc(h.handleSubmit))).Methods(http.MethodPost)
	router.HandleFunc("/patients/{id}/latest", h.handleLatest).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/history", h.handleHistory).Methods(http.MethodGet)
}

func (h *VitalHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	sub, err := h.validator.VitalSubmission(body)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			h.metrics.ValidationFailed(validation.SchemaVitalSubmission)
			apierror.Write(w, apierror.Validation(verr.Fields))
			return
		}
		writeInternal(w, err, "failed to validate vital")
		return
	}

	if p, ok := middleware.PrincipalFrom(r.Context()); ok && !p.Master && p.DeviceID != sub.DeviceID {
		logger.Log.WithFields(map[string]interface{}{
			"credential_device": p.DeviceID,
			"device_id":         sub.DeviceID,
		}).Warn("device credential submitted a reading for another device")
	}

	token := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if token == "" {
		token = sub.IdempotencyKey
	}

	result, err := h.service.Submit(r.Context(), patientID, sub, token)
	if err != nil {
		if errors.Is(err, vitals.ErrUnknownDevice) {
			h.metrics.ValidationFailed(validation.SchemaVitalSubmission)
			apierror.Write(w, apierror.Validation(map[string][]string{
				"device_id": {vitals.ErrUnknownDevice.Error()},
			}))
			return
		}
		writeInternal(w, err, "failed to store vital")
		return
	}

	if result.Duplicate {
		apierror.WriteJSON(w, http.StatusOK, models.SubmitVitalResponse{Status: vitals.StatusDuplicateIgnored})
		return
	}
	apierror.WriteJSON(w, http.StatusCreated, models.SubmitVitalResponse{
		VitalID: result.VitalID,
		Status:  vitals.StatusStored,
	})
}

func (h *VitalHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]

	v, err := h.service.Latest(r.Context(), patientID)
	if err != nil {
		if errors.Is(err, vitals.ErrNotFound) {
			apierror.Write(w, apierror.NotFound("no readings for patient"))
			return
		}
		writeInternal(w, err, "failed to fetch latest vital")
		return
	}

	apierror.WriteJSON(w, http.StatusOK, v.Reading())
}

func (h *VitalHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := vitals.HistoryQuery{
		PatientID: mux.Vars(r)["id"],
		Page:      1,
		PageSize:  vitals.DefaultPageSize,
	}

	var err error
	if query.From, err = parseTimeParam(q.Get("from")); err != nil {
		apierror.Write(w, apierror.BadRequest("invalid from: expected ISO-8601 date-time"))
		return
	}
	if query.To, err = parseTimeParam(q.Get("to")); err != nil {
		apierror.Write(w, apierror.BadRequest("invalid to: expected ISO-8601 date-time"))
		return
	}
	if query.Page, err = parseIntParam(q.Get("page"), query.Page); err != nil {
		apierror.Write(w, apierror.BadRequest("invalid page: expected integer"))
		return
	}
	if query.PageSize, err = parseIntParam(q.Get("page_size"), query.PageSize); err != nil {
		apierror.Write(w, apierror.BadRequest("invalid page_size: expected integer"))
		return
	}
	query.Page, query.PageSize = vitals.ClampPage(query.Page, query.PageSize)

	rows, total, err := h.service.History(r.Context(), query)
	if err != nil {
		writeInternal(w, err, "failed to list vital history")
		return
	}

	results := make([]models.VitalReading, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.Reading())
	}
	apierror.WriteJSON(w, http.StatusOK, models.HistoryPage{
		Results:  results,
		Page:     query.Page,
		PageSize: query.PageSize,
		Total:    total,
	})
}

func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := validation.ParseTimestamp(raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func parseIntParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
