package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/pipeline"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// StatusProvider reports the ingestion pipeline status.
type StatusProvider interface {
	Status() pipeline.Status
}

// EntityReader reads committed entities.
type EntityReader interface {
	Get(ctx context.Context, entityType, id string) (*entity.Entity, error)
	List(ctx context.Context, entityType string, limit, offset int) ([]*entity.Entity, int, error)
}

// Handler handles HTTP requests for the API.
type Handler struct {
	status   StatusProvider
	entities EntityReader
	registry *entity.Registry
	log      *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(status StatusProvider, entities EntityReader, registry *entity.Registry, log *logger.Logger) *Handler {
	return &Handler{
		status:   status,
		entities: entities,
		registry: registry,
		log:      log,
	}
}

// Health returns the health status of the API and the pipeline.
// @Summary Health check
// @Description Check the health of the API and the ingestion pipeline. A halted pipeline reports 503.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Pipeline is running"
// @Failure 503 {object} HealthResponse "Pipeline is halted"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.status.Status()

	response := HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now(),
		State:      status.State,
		HaltReason: status.HaltReason,
	}

	code := http.StatusOK
	if status.State == pipeline.StateHalted {
		response.Status = "halted"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, response)
}

// GetStatus returns the pipeline state, checkpoint and lag.
// @Summary Pipeline status
// @Description Get the pipeline state, last committed checkpoint, chain head, lag and halt reason
// @Tags Status
// @Produce json
// @Success 200 {object} pipeline.Status "Pipeline status"
// @Router /status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status.Status())
}

// ListEntityTypes returns the registered entity types and their fields.
// @Summary List entity types
// @Description Get every registered entity type with its field kinds and query endpoints
// @Tags Entities
// @Produce json
// @Success 200 {array} EntityTypeInfo "Entity types"
// @Router /entities [get]
func (h *Handler) ListEntityTypes(w http.ResponseWriter, r *http.Request) {
	types := h.registry.Types()

	infos := make([]EntityTypeInfo, 0, len(types))
	for _, entityType := range types {
		schema, err := h.registry.Schema(entityType)
		if err != nil {
			continue
		}

		fields := make(map[string]string, len(schema.Fields))
		for name, kind := range schema.Fields {
			fields[name] = string(kind)
		}

		infos = append(infos, EntityTypeInfo{
			Type:   entityType,
			Fields: fields,
			Endpoints: []string{
				fmt.Sprintf("/api/v1/entities/%s", entityType),
				fmt.Sprintf("/api/v1/entities/%s/{id}", entityType),
			},
		})
	}

	respondJSON(w, http.StatusOK, infos)
}

// ListEntities returns one page of entities of a type.
// @Summary List entities
// @Description Retrieve entities of one type ordered by id, with pagination
// @Tags Entities
// @Produce json
// @Param type path string true "Entity type"
// @Param limit query int false "Maximum number of entities to return" default(100)
// @Param offset query int false "Number of entities to skip" default(0)
// @Success 200 {object} EntityListResponse "Entities with pagination info"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Entity type not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{type} [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	if entityType == "" {
		respondError(w, http.StatusBadRequest, "entity type is required")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	list, total, err := h.entities.List(r.Context(), entityType, limit, offset)
	if err != nil {
		h.respondStoreError(w, entityType, err)
		return
	}

	respondJSON(w, http.StatusOK, EntityListResponse{
		Entities: list,
		Pagination: PaginationResult{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(list) < total,
		},
	})
}

// GetEntity returns a single entity.
// @Summary Get entity
// @Description Retrieve one entity by type and id
// @Tags Entities
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity id"
// @Success 200 {object} entity.Entity "The entity"
// @Failure 404 {object} ErrorResponse "Entity or type not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{type}/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	id := r.PathValue("id")
	if entityType == "" || id == "" {
		respondError(w, http.StatusBadRequest, "entity type and id are required")
		return
	}

	e, err := h.entities.Get(r.Context(), entityType, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("%s '%s' not found", entityType, id))
			return
		}
		h.respondStoreError(w, entityType, err)
		return
	}

	respondJSON(w, http.StatusOK, e)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, entityType string, err error) {
	var mismatch *entity.SchemaMismatchError
	if errors.As(err, &mismatch) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("entity type '%s' not found", entityType))
		return
	}

	h.log.Errorf("Failed to query %s entities: %v", entityType, err)
	respondError(w, http.StatusInternalServerError, "failed to query entities")
}

// parsePagination reads limit and offset from the query string.
func parsePagination(r *http.Request) (int, int, error) {
	limit, offset := defaultLimit, 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > maxLimit {
			return 0, 0, fmt.Errorf("invalid limit: must be between 1 and %d", maxLimit)
		}
		limit = l
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil || o < 0 {
			return 0, 0, errors.New("invalid offset: must be non-negative")
		}
		offset = o
	}

	return limit, offset, nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// encode first so a failure can still change the status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	respondJSON(w, status, response)
}
