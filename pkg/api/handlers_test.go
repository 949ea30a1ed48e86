package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	apimocks "github.com/goran-ethernal/ChainProjector/internal/api/mocks"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/pipeline"
	"github.com/goran-ethernal/ChainProjector/internal/projector/marketplace"
	"github.com/goran-ethernal/ChainProjector/internal/reorg"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var seller = common.HexToAddress("0x00000000000000000000000000000000000000bb")

func newTestRegistry(t *testing.T) *entity.Registry {
	t.Helper()

	registry, err := entity.NewRegistry(marketplace.Schema)
	require.NoError(t, err)
	return registry
}

func marketItem(id int64, block uint64) *entity.Entity {
	return &entity.Entity{
		Type: marketplace.EntityType,
		ID:   big.NewInt(id).String(),
		Fields: entity.Fields{
			"itemId": big.NewInt(id),
			"seller": seller,
			"price":  big.NewInt(1000),
			"sold":   false,
		},
		UpdatedBlock: block,
	}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         int
		data           any
		expectedBody   string
		expectedStatus int
	}{
		{
			name:           "success with simple data",
			status:         http.StatusOK,
			data:           map[string]string{"message": "success"},
			expectedBody:   `{"message":"success"}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "success with nil",
			status:         http.StatusOK,
			data:           nil,
			expectedBody:   "null",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "entity with canonical fields",
			status:         http.StatusOK,
			data:           marketItem(1, 10),
			expectedBody:   `{"type":"MarketItem","id":"1","updated_block":10,"fields":{"itemId":"1","price":"1000","seller":"` + seller.Hex() + `","sold":false}}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "error status",
			status:         http.StatusBadRequest,
			data:           map[string]string{"error": "bad request"},
			expectedBody:   `{"error":"bad request"}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			respondJSON(w, tt.status, tt.data)

			require.Equal(t, tt.expectedStatus, w.Code)
			require.Equal(t, "application/json", w.Header().Get("Content-Type"))
			require.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestRespondJSON_EncodingError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	// Channel cannot be JSON encoded
	respondJSON(w, http.StatusOK, make(chan int))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "Failed to encode response")
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	respondError(w, http.StatusNotFound, "missing")

	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeBody[ErrorResponse](t, w)
	require.Equal(t, "Not Found", resp.Error)
	require.Equal(t, "missing", resp.Message)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         pipeline.Status
		expectedCode   int
		expectedStatus string
	}{
		{
			name:           "syncing",
			status:         pipeline.Status{State: pipeline.StateSyncing},
			expectedCode:   http.StatusOK,
			expectedStatus: "ok",
		},
		{
			name:           "live",
			status:         pipeline.Status{State: pipeline.StateLive},
			expectedCode:   http.StatusOK,
			expectedStatus: "ok",
		},
		{
			name: "halted",
			status: pipeline.Status{
				State:      pipeline.StateHalted,
				HaltReason: pipeline.ReasonSchemaMismatch,
			},
			expectedCode:   http.StatusServiceUnavailable,
			expectedStatus: "halted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status := apimocks.NewStatusProvider(t)
			status.EXPECT().Status().Return(tt.status)

			h := NewHandler(status, apimocks.NewEntityReader(t), newTestRegistry(t), logger.NewNopLogger())

			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.expectedCode, w.Code)
			resp := decodeBody[HealthResponse](t, w)
			require.Equal(t, tt.expectedStatus, resp.Status)
			require.Equal(t, tt.status.State, resp.State)
			require.Equal(t, tt.status.HaltReason, resp.HaltReason)
		})
	}
}

func TestHandler_GetStatus(t *testing.T) {
	t.Parallel()

	status := apimocks.NewStatusProvider(t)
	status.EXPECT().Status().Return(pipeline.Status{
		State: pipeline.StateLive,
		Checkpoint: &reorg.Checkpoint{
			LastProcessedBlock:    120,
			LastProcessedLogIndex: 3,
			BlockHash:             common.HexToHash("0xabc"),
			FinalizedBlock:        108,
			State:                 string(pipeline.StateLive),
		},
		ChainHead: 121,
		Lag:       1,
	})

	h := NewHandler(status, apimocks.NewEntityReader(t), newTestRegistry(t), logger.NewNopLogger())

	w := httptest.NewRecorder()
	h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[pipeline.Status](t, w)
	require.Equal(t, pipeline.StateLive, resp.State)
	require.NotNil(t, resp.Checkpoint)
	require.Equal(t, uint64(120), resp.Checkpoint.LastProcessedBlock)
	require.Equal(t, uint64(108), resp.Checkpoint.FinalizedBlock)
	require.Equal(t, common.HexToHash("0xabc"), resp.Checkpoint.BlockHash)
	require.Equal(t, uint64(1), resp.Lag)
}

func TestHandler_ListEntityTypes(t *testing.T) {
	t.Parallel()

	h := NewHandler(apimocks.NewStatusProvider(t), apimocks.NewEntityReader(t), newTestRegistry(t), logger.NewNopLogger())

	w := httptest.NewRecorder()
	h.ListEntityTypes(w, httptest.NewRequest(http.MethodGet, "/api/v1/entities", nil))

	require.Equal(t, http.StatusOK, w.Code)
	infos := decodeBody[[]EntityTypeInfo](t, w)
	require.Len(t, infos, 1)
	require.Equal(t, marketplace.EntityType, infos[0].Type)
	require.Equal(t, "uint256", infos[0].Fields["itemId"])
	require.Equal(t, "address", infos[0].Fields["seller"])
	require.Contains(t, infos[0].Endpoints, "/api/v1/entities/MarketItem")
}

func TestHandler_ListEntities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		query        string
		setup        func(r *apimocks.EntityReader)
		expectedCode int
		validate     func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name:  "default pagination",
			query: "",
			setup: func(r *apimocks.EntityReader) {
				r.EXPECT().List(mock.Anything, marketplace.EntityType, 100, 0).
					Return([]*entity.Entity{marketItem(1, 10), marketItem(2, 11)}, 2, nil)
			},
			expectedCode: http.StatusOK,
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				t.Helper()

				var resp struct {
					Entities []struct {
						ID           string         `json:"id"`
						UpdatedBlock uint64         `json:"updated_block"`
						Fields       map[string]any `json:"fields"`
					} `json:"entities"`
					Pagination PaginationResult `json:"pagination"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.Len(t, resp.Entities, 2)
				require.Equal(t, "1", resp.Entities[0].ID)
				require.Equal(t, "1000", resp.Entities[0].Fields["price"])
				require.Equal(t, uint64(11), resp.Entities[1].UpdatedBlock)
				require.Equal(t, PaginationResult{Total: 2, Limit: 100, Offset: 0, HasMore: false}, resp.Pagination)
			},
		},
		{
			name:  "custom pagination with more pages",
			query: "?limit=1&offset=1",
			setup: func(r *apimocks.EntityReader) {
				r.EXPECT().List(mock.Anything, marketplace.EntityType, 1, 1).
					Return([]*entity.Entity{marketItem(2, 11)}, 5, nil)
			},
			expectedCode: http.StatusOK,
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				t.Helper()

				var resp struct {
					Pagination PaginationResult `json:"pagination"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.Equal(t, PaginationResult{Total: 5, Limit: 1, Offset: 1, HasMore: true}, resp.Pagination)
			},
		},
		{
			name:         "limit too large",
			query:        "?limit=1001",
			setup:        func(r *apimocks.EntityReader) {},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "limit not a number",
			query:        "?limit=abc",
			setup:        func(r *apimocks.EntityReader) {},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "negative offset",
			query:        "?offset=-1",
			setup:        func(r *apimocks.EntityReader) {},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:  "unknown entity type",
			query: "",
			setup: func(r *apimocks.EntityReader) {
				r.EXPECT().List(mock.Anything, marketplace.EntityType, 100, 0).
					Return(nil, 0, &entity.SchemaMismatchError{EntityType: marketplace.EntityType, Reason: "unknown entity type"})
			},
			expectedCode: http.StatusNotFound,
		},
		{
			name:  "storage failure",
			query: "",
			setup: func(r *apimocks.EntityReader) {
				r.EXPECT().List(mock.Anything, marketplace.EntityType, 100, 0).
					Return(nil, 0, errors.New("disk I/O error"))
			},
			expectedCode: http.StatusInternalServerError,
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				t.Helper()

				resp := decodeBody[ErrorResponse](t, w)
				require.Equal(t, "failed to query entities", resp.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reader := apimocks.NewEntityReader(t)
			tt.setup(reader)

			h := NewHandler(apimocks.NewStatusProvider(t), reader, newTestRegistry(t), logger.NewNopLogger())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/entities/MarketItem"+tt.query, nil)
			req.SetPathValue("type", marketplace.EntityType)
			w := httptest.NewRecorder()

			h.ListEntities(w, req)

			require.Equal(t, tt.expectedCode, w.Code)
			if tt.validate != nil {
				tt.validate(t, w)
			}
		})
	}
}

func TestHandler_GetEntity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		id           string
		setup        func(r *apimocks.EntityReader)
		expectedCode int
	}{
		{
			name: "found",
			id:   "1",
			setup: func(r *apimocks.EntityReader) {
				r.EXPECT().Get(mock.Anything, marketplace.EntityType, "1").Return(marketItem(1, 10), nil)
			},
			expectedCode: http.StatusOK,
		},
		{
			name: "not found",
			id:   "404",
			setup: func(r *apimocks.EntityReader) {
				r.EXPECT().Get(mock.Anything, marketplace.EntityType, "404").Return(nil, entity.ErrNotFound)
			},
			expectedCode: http.StatusNotFound,
		},
		{
			name: "storage failure",
			id:   "1",
			setup: func(r *apimocks.EntityReader) {
				r.EXPECT().Get(mock.Anything, marketplace.EntityType, "1").Return(nil, errors.New("database is locked"))
			},
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reader := apimocks.NewEntityReader(t)
			tt.setup(reader)

			h := NewHandler(apimocks.NewStatusProvider(t), reader, newTestRegistry(t), logger.NewNopLogger())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/entities/MarketItem/"+tt.id, nil)
			req.SetPathValue("type", marketplace.EntityType)
			req.SetPathValue("id", tt.id)
			w := httptest.NewRecorder()

			h.GetEntity(w, req)

			require.Equal(t, tt.expectedCode, w.Code)
			if tt.expectedCode == http.StatusOK {
				var resp struct {
					Type   string         `json:"type"`
					ID     string         `json:"id"`
					Fields map[string]any `json:"fields"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.Equal(t, marketplace.EntityType, resp.Type)
				require.Equal(t, tt.id, resp.ID)
				require.Equal(t, seller.Hex(), resp.Fields["seller"])
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query  string
		limit  int
		offset int
		err    bool
	}{
		{query: "", limit: defaultLimit, offset: 0},
		{query: "limit=1", limit: 1, offset: 0},
		{query: "limit=1000&offset=20", limit: 1000, offset: 20},
		{query: "limit=0", err: true},
		{query: "offset=x", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()

			limit, offset, err := parsePagination(httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil))
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.limit, limit)
			require.Equal(t, tt.offset, offset)
		})
	}
}
