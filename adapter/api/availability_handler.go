package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robpanda/panda-crm/internal/availability/application"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

// maxBatchResources caps the resource IDs accepted by one batch request.
const maxBatchResources = 500

// Request bounds applied when the handler config leaves them zero.
const (
	DefaultMaxWindow       = 366 * 24 * time.Hour
	DefaultMinSlotDuration = 5 * time.Minute
)

// AvailabilityHandler handles availability API requests.
type AvailabilityHandler struct {
	resolver        *application.Resolver
	location        *time.Location
	weekStart       time.Weekday
	maxWindow       time.Duration
	minSlotDuration time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// AvailabilityHandlerConfig holds dependencies for the availability handler.
type AvailabilityHandlerConfig struct {
	Resolver *application.Resolver
	// Location resolves date-only parameters and range presets. Defaults to UTC.
	Location  *time.Location
	WeekStart time.Weekday
	// MaxWindow caps the span of any queried window.
	MaxWindow time.Duration
	// MinSlotDuration is the shortest slot a caller may ask for.
	MinSlotDuration time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// NewAvailabilityHandler creates a new availability handler.
func NewAvailabilityHandler(cfg AvailabilityHandlerConfig) *AvailabilityHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultMaxWindow
	}
	if cfg.MinSlotDuration <= 0 {
		cfg.MinSlotDuration = DefaultMinSlotDuration
	}
	return &AvailabilityHandler{
		resolver:        cfg.Resolver,
		location:        cfg.Location,
		weekStart:       cfg.WeekStart,
		maxWindow:       cfg.MaxWindow,
		minSlotDuration: cfg.MinSlotDuration,
		now:             cfg.Now,
		logger:          cfg.Logger,
	}
}

// IntervalResponse is a half-open interval.
type IntervalResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BusyPeriodResponse is a merged busy period.
type BusyPeriodResponse struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source"`
}

// SlotResponse is a free appointment slot.
type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// FailureResponse describes a source that could not be read.
type FailureResponse struct {
	Source     string `json:"source"`
	ResourceID string `json:"resource_id,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Error      string `json:"error"`
}

// SlotCheckResponse is returned by CheckSlot.
type SlotCheckResponse struct {
	ResourceID string               `json:"resource_id"`
	Slot       IntervalResponse     `json:"slot"`
	Free       bool                 `json:"free"`
	Conflicts  []BusyPeriodResponse `json:"conflicts"`
	Degraded   []FailureResponse    `json:"degraded"`
}

// FreeSlotsResponse is returned by FreeSlots.
type FreeSlotsResponse struct {
	ResourceID string               `json:"resource_id"`
	Window     IntervalResponse     `json:"window"`
	Duration   string               `json:"duration"`
	Slots      []SlotResponse       `json:"slots"`
	Busy       []BusyPeriodResponse `json:"busy"`
	Degraded   []FailureResponse    `json:"degraded"`
}

// BusyResponse is returned by BusyPeriods.
type BusyResponse struct {
	ResourceID string               `json:"resource_id"`
	Window     IntervalResponse     `json:"window"`
	Periods    []BusyPeriodResponse `json:"periods"`
	Degraded   []FailureResponse    `json:"degraded"`
}

// BatchRequest is the body of POST /api/v1/availability/batch.
type BatchRequest struct {
	ResourceIDs []string  `json:"resource_ids"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// BatchResponse is returned by BatchBusy.
type BatchResponse struct {
	Window    IntervalResponse                `json:"window"`
	Resources map[string][]BusyPeriodResponse `json:"resources"`
	Degraded  []FailureResponse               `json:"degraded"`
}

// RangeResponse is a resolved date range preset. End is inclusive.
type RangeResponse struct {
	Key   string    `json:"key"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CheckSlot handles GET /api/v1/resources/{resourceID}/availability
func (h *AvailabilityHandler) CheckSlot(w http.ResponseWriter, r *http.Request) {
	id := domain.ResourceID(chi.URLParam(r, "resourceID"))

	start, err := h.parseTime(r, "start")
	if err != nil || start.IsZero() {
		writeError(w, r, ErrBadRequest.withMessage("Query parameter 'start' is required (RFC 3339)"))
		return
	}
	end, err := h.parseTime(r, "end")
	if err != nil {
		writeError(w, r, ErrBadRequest.withMessage(err.Error()))
		return
	}
	if end.IsZero() {
		d, err := h.parseDuration(r)
		if err != nil {
			writeError(w, r, toAPIError(err))
			return
		}
		end = start.Add(d)
	}
	if err := h.checkSpan(start, end); err != nil {
		writeError(w, r, toAPIError(err))
		return
	}

	result, err := h.resolver.IsSlotFree(r.Context(), id, start, end)
	if err != nil {
		h.fail(w, r, "failed to check slot", err)
		return
	}

	writeJSON(w, http.StatusOK, SlotCheckResponse{
		ResourceID: string(id),
		Slot:       IntervalResponse{Start: start, End: end},
		Free:       result.Free,
		Conflicts:  busyResponses(result.Conflicts),
		Degraded:   failureResponses(result.Degraded),
	})
}

// FreeSlots handles GET /api/v1/resources/{resourceID}/slots
func (h *AvailabilityHandler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	id := domain.ResourceID(chi.URLParam(r, "resourceID"))

	window, err := h.window(r)
	if err != nil {
		writeError(w, r, toAPIError(err))
		return
	}
	duration, err := h.parseDuration(r)
	if err != nil {
		writeError(w, r, toAPIError(err))
		return
	}

	limit := parseIntParam(r, "limit", 0)
	result, err := h.resolver.FirstFreeSlots(r.Context(), id, window.Start, window.End, duration, limit)
	if err != nil {
		h.fail(w, r, "failed to list free slots", err)
		return
	}

	slots := result.Slots
	resp := FreeSlotsResponse{
		ResourceID: string(id),
		Window:     IntervalResponse{Start: window.Start, End: window.End},
		Duration:   duration.String(),
		Slots:      make([]SlotResponse, 0, len(slots)),
		Busy:       busyResponses(result.Busy),
		Degraded:   failureResponses(result.Degraded),
	}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, SlotResponse{Start: s.Start, End: s.End, Label: s.Label})
	}
	writeJSON(w, http.StatusOK, resp)
}

// BusyPeriods handles GET /api/v1/resources/{resourceID}/busy
func (h *AvailabilityHandler) BusyPeriods(w http.ResponseWriter, r *http.Request) {
	id := domain.ResourceID(chi.URLParam(r, "resourceID"))

	window, err := h.window(r)
	if err != nil {
		writeError(w, r, toAPIError(err))
		return
	}

	result, err := h.resolver.BusyPeriods(r.Context(), id, window.Start, window.End)
	if err != nil {
		h.fail(w, r, "failed to get busy periods", err)
		return
	}

	writeJSON(w, http.StatusOK, BusyResponse{
		ResourceID: string(id),
		Window:     IntervalResponse{Start: window.Start, End: window.End},
		Periods:    busyResponses(result.Periods),
		Degraded:   failureResponses(result.Degraded),
	})
}

// BatchBusy handles POST /api/v1/availability/batch
func (h *AvailabilityHandler) BatchBusy(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, ErrBadRequest.withMessage("Invalid JSON body"))
		return
	}
	if len(req.ResourceIDs) > maxBatchResources {
		writeError(w, r, ErrBadRequest.withMessage(fmt.Sprintf("At most %d resource_ids per request", maxBatchResources)))
		return
	}
	if err := h.checkSpan(req.Start, req.End); err != nil {
		writeError(w, r, toAPIError(err))
		return
	}

	ids := make([]domain.ResourceID, 0, len(req.ResourceIDs))
	for _, id := range req.ResourceIDs {
		ids = append(ids, domain.ResourceID(id))
	}

	result, err := h.resolver.BatchBusyPeriods(r.Context(), ids, req.Start, req.End)
	if err != nil {
		h.fail(w, r, "failed to get batch busy periods", err)
		return
	}

	resp := BatchResponse{
		Window:    IntervalResponse{Start: req.Start, End: req.End},
		Resources: make(map[string][]BusyPeriodResponse, len(result.Periods)),
		Degraded:  failureResponses(result.Degraded),
	}
	for id, periods := range result.Periods {
		resp.Resources[string(id)] = busyResponses(periods)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRanges handles GET /api/v1/ranges
func (h *AvailabilityHandler) ListRanges(w http.ResponseWriter, r *http.Request) {
	keys := domain.PresetKeys()
	if key := r.URL.Query().Get("key"); key != "" {
		keys = []string{key}
	}

	opts := domain.DateRangeOptions{
		Now:       h.now(),
		Location:  h.location,
		WeekStart: h.weekStart,
	}
	ranges := make([]RangeResponse, 0, len(keys))
	for _, key := range keys {
		if key == domain.PresetCustom {
			continue
		}
		dr, err := domain.ParseDateRange(key, opts)
		if err != nil {
			writeError(w, r, toAPIError(err))
			return
		}
		ranges = append(ranges, RangeResponse{Key: dr.Key, Start: dr.Start, End: dr.End})
	}
	writeJSON(w, http.StatusOK, ranges)
}

// window resolves the range, from and to query parameters. Explicit from and
// to win unless range is "custom", which treats them as whole days.
func (h *AvailabilityHandler) window(r *http.Request) (domain.TimeInterval, error) {
	from, err := h.parseTime(r, "from")
	if err != nil {
		return domain.TimeInterval{}, fmt.Errorf("%w: %v", domain.ErrInvalidWindow, err)
	}
	to, err := h.parseTime(r, "to")
	if err != nil {
		return domain.TimeInterval{}, fmt.Errorf("%w: %v", domain.ErrInvalidWindow, err)
	}

	key := r.URL.Query().Get("range")
	if !from.IsZero() && !to.IsZero() && key != domain.PresetCustom {
		if err := h.checkSpan(from, to); err != nil {
			return domain.TimeInterval{}, err
		}
		return domain.NewTimeInterval(from, to)
	}
	if key == "" {
		key = domain.PresetThisWeek
	}

	dr, err := domain.ParseDateRange(key, domain.DateRangeOptions{
		Now:       h.now(),
		Location:  h.location,
		WeekStart: h.weekStart,
		From:      from,
		To:        to,
	})
	if err != nil {
		return domain.TimeInterval{}, err
	}
	iv := dr.Interval()
	if err := h.checkSpan(iv.Start, iv.End); err != nil {
		return domain.TimeInterval{}, err
	}
	return iv, nil
}

// checkSpan rejects windows longer than the configured maximum. Inverted
// windows are left for the resolver to report.
func (h *AvailabilityHandler) checkSpan(start, end time.Time) error {
	if end.Sub(start) > h.maxWindow {
		return fmt.Errorf("%w: window spans more than %s", domain.ErrInvalidWindow, h.maxWindow)
	}
	return nil
}

// parseTime reads an RFC 3339 instant or a YYYY-MM-DD date. A missing
// parameter yields the zero time.
func (h *AvailabilityHandler) parseTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, h.location); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid %s %q, use RFC 3339 or YYYY-MM-DD", name, raw)
}

// parseDuration reads the duration parameter, defaulting to the generator's
// slot duration. Anything shorter than the configured minimum is rejected.
func (h *AvailabilityHandler) parseDuration(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("duration")
	if raw == "" {
		return h.resolver.Generator().SlotDuration(), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid duration %q", domain.ErrInvalidSlotDuration, raw)
	}
	if d < h.minSlotDuration {
		return 0, fmt.Errorf("%w: duration %s is shorter than %s", domain.ErrInvalidSlotDuration, d, h.minSlotDuration)
	}
	return d, nil
}

func (h *AvailabilityHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg, "error", err)
	}
	writeError(w, r, apiErr)
}

func busyResponses(periods []domain.BusyPeriod) []BusyPeriodResponse {
	out := make([]BusyPeriodResponse, 0, len(periods))
	for _, p := range periods {
		out = append(out, BusyPeriodResponse{Start: p.Start, End: p.End, Source: string(p.Source)})
	}
	return out
}

func failureResponses(failures []application.SourceFailure) []FailureResponse {
	out := make([]FailureResponse, 0, len(failures))
	for _, f := range failures {
		resp := FailureResponse{
			Source:     f.Source,
			ResourceID: string(f.ResourceID),
			Identity:   f.Identity,
		}
		if f.Err != nil {
			resp.Error = f.Err.Error()
		}
		out = append(out, resp)
	}
	return out
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	valStr := r.URL.Query().Get(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
