package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/table"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

type adminHandlers struct {
	catalog *table.Catalog
	logger  *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *adminHandlers) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	var se *errors.StorageError
	if stderrors.As(err, &se) {
		status = httpStatus(se.ToGRPCStatus().Code())
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Admin request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     "error",
		"error_code": int(code),
		"message":    err.Error(),
	})
}

// listTables handles GET /admin/tables
func (h *adminHandlers) listTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tables": h.catalog.Tables(),
	})
}

// describeTable handles GET /admin/tables/{name}
func (h *adminHandlers) describeTable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	cols, err := h.catalog.Desc(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table":   name,
		"columns": cols,
	})
}
