package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driving"
)

const maxBodyBytes = 8 << 20

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Checks PostgreSQL and, when configured, Redis
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse  "A dependency is unavailable"
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "dependency", "postgres", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "dependency", "redis", "error", err)
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Provider endpoints

// handleListProviders godoc
// @Summary      List providers
// @Description  Lists the fulfillment providers sellers can connect to
// @Tags         Providers
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   domain.ProviderInfo
// @Failure      401  {object}  ErrorResponse
// @Router       /providers [get]
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.integrations.Providers())
}

// Integration endpoints

// handleConnect godoc
// @Summary      Connect a provider
// @Description  Stores credentials for a seller and provider environment. Reconnects disconnected or needs_reauth integrations in place.
// @Tags         Integrations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        seller   path      string                   true  "Seller ID"
// @Param        request  body      driving.ConnectRequest   true  "Connection"
// @Success      201      {object}  domain.IntegrationSummary
// @Failure      400      {object}  ErrorResponse  "Invalid request"
// @Failure      409      {object}  ErrorResponse  "Already connected"
// @Router       /sellers/{seller}/integrations [post]
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req driving.ConnectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.SellerID = r.PathValue("seller")

	summary, err := s.integrations.Connect(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// handleListIntegrations godoc
// @Summary      List integrations
// @Description  Lists every integration of a seller without secrets
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        seller  path  string  true  "Seller ID"
// @Success      200  {array}  domain.IntegrationSummary
// @Router       /sellers/{seller}/integrations [get]
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.integrations.List(r.Context(), r.PathValue("seller"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleGetIntegration godoc
// @Summary      Get integration
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        seller    path   string  true   "Seller ID"
// @Param        provider  path   string  true   "Provider name"
// @Param        sandbox   query  bool    false  "Sandbox environment"
// @Success      200  {object}  domain.IntegrationSummary
// @Failure      404  {object}  ErrorResponse
// @Router       /sellers/{seller}/integrations/{provider} [get]
func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	key, ok := integrationKey(w, r)
	if !ok {
		return
	}
	summary, err := s.integrations.Get(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleUpdateIntegration godoc
// @Summary      Update integration configuration
// @Description  Changes description, webhook or credentials. With expected_last_updated set, a concurrent change returns 409.
// @Tags         Integrations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        seller    path   string                            true   "Seller ID"
// @Param        provider  path   string                            true   "Provider name"
// @Param        sandbox   query  bool                              false  "Sandbox environment"
// @Param        request   body   driving.UpdateIntegrationRequest  true   "Changes"
// @Success      200  {object}  domain.IntegrationSummary
// @Failure      409  {object}  ErrorResponse  "Concurrent modification"
// @Router       /sellers/{seller}/integrations/{provider} [patch]
func (s *Server) handleUpdateIntegration(w http.ResponseWriter, r *http.Request) {
	key, ok := integrationKey(w, r)
	if !ok {
		return
	}
	var req driving.UpdateIntegrationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	summary, err := s.integrations.UpdateIntegrationConfig(r.Context(), key, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleDisconnect godoc
// @Summary      Disconnect integration
// @Description  Marks the integration disconnected. The record is kept.
// @Tags         Integrations
// @Security     BearerAuth
// @Param        seller    path   string  true   "Seller ID"
// @Param        provider  path   string  true   "Provider name"
// @Param        sandbox   query  bool    false  "Sandbox environment"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /sellers/{seller}/integrations/{provider} [delete]
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	key, ok := integrationKey(w, r)
	if !ok {
		return
	}
	if err := s.integrations.Disconnect(r.Context(), key); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Fulfillment endpoints

// handleCreateOrder godoc
// @Summary      Create fulfillment order
// @Description  Dispatches an order to the provider. Repeating a request for the same order ID returns the existing order.
// @Tags         Fulfillment
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        seller    path   string                     true   "Seller ID"
// @Param        provider  path   string                     true   "Provider name"
// @Param        sandbox   query  bool                       false  "Sandbox environment"
// @Param        request   body   domain.FulfillmentRequest  true   "Order"
// @Success      201  {object}  domain.FulfillmentOrder
// @Failure      400  {object}  ErrorResponse  "Validation failed"
// @Failure      409  {object}  ErrorResponse  "Integration not connected"
// @Failure      429  {object}  ErrorResponse  "Rate limited"
// @Failure      502  {object}  ErrorResponse  "Provider error"
// @Failure      504  {object}  ErrorResponse  "Provider timeout"
// @Router       /sellers/{seller}/integrations/{provider}/orders [post]
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	key, ok := integrationKey(w, r)
	if !ok {
		return
	}
	var req domain.FulfillmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := s.orchestration.CreateFulfillmentOrder(r.Context(), key, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// handleGetOrder godoc
// @Summary      Get fulfillment order
// @Tags         Fulfillment
// @Produce      json
// @Security     BearerAuth
// @Param        seller  path  string  true  "Seller ID"
// @Param        order   path  string  true  "Platform order ID"
// @Success      200  {object}  domain.FulfillmentOrder
// @Failure      404  {object}  ErrorResponse
// @Router       /sellers/{seller}/orders/{order} [get]
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orchestration.GetFulfillmentOrder(r.Context(), r.PathValue("seller"), r.PathValue("order"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handleRefreshOrder godoc
// @Summary      Refresh fulfillment order
// @Description  Polls the provider for status and tracking
// @Tags         Fulfillment
// @Produce      json
// @Security     BearerAuth
// @Param        seller  path  string  true  "Seller ID"
// @Param        order   path  string  true  "Platform order ID"
// @Success      200  {object}  domain.FulfillmentOrder
// @Failure      404  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /sellers/{seller}/orders/{order}/refresh [post]
func (s *Server) handleRefreshOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orchestration.RefreshFulfillmentOrder(r.Context(), r.PathValue("seller"), r.PathValue("order"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handleInventory godoc
// @Summary      Get inventory levels
// @Description  Returns provider stock for SKUs. SKUs may repeat the parameter or be comma separated.
// @Tags         Inventory
// @Produce      json
// @Security     BearerAuth
// @Param        seller    path   string  true   "Seller ID"
// @Param        provider  path   string  true   "Provider name"
// @Param        sandbox   query  bool    false  "Sandbox environment"
// @Param        sku       query  string  true   "SKU"
// @Success      200  {array}   domain.InventoryLevel
// @Failure      400  {object}  ErrorResponse
// @Router       /sellers/{seller}/integrations/{provider}/inventory [get]
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	key, ok := integrationKey(w, r)
	if !ok {
		return
	}
	var skus []string
	for _, v := range r.URL.Query()["sku"] {
		for _, sku := range strings.Split(v, ",") {
			if sku = strings.TrimSpace(sku); sku != "" {
				skus = append(skus, sku)
			}
		}
	}

	levels, err := s.orchestration.GetInventoryLevels(r.Context(), key, skus)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, levels)
}

// Sync endpoints

// handleStartSync godoc
// @Summary      Start batch sync
// @Description  Queues a batch of orders or products and returns the sync record immediately
// @Tags         Syncs
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        seller   path  string                   true  "Seller ID"
// @Param        request  body  domain.BatchSyncRequest  true  "Batch"
// @Success      202  {object}  domain.SyncProgress
// @Failure      400  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse  "Integration not connected"
// @Router       /sellers/{seller}/syncs [post]
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchSyncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.SellerID = r.PathValue("seller")

	progress, err := s.orchestration.StartBatchSync(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, progress)
}

// handleListSyncs godoc
// @Summary      List syncs
// @Tags         Syncs
// @Produce      json
// @Security     BearerAuth
// @Param        seller  path  string  true  "Seller ID"
// @Success      200  {array}  domain.SyncProgress
// @Router       /sellers/{seller}/syncs [get]
func (s *Server) handleListSyncs(w http.ResponseWriter, r *http.Request) {
	syncs, err := s.orchestration.ListSyncs(r.Context(), r.PathValue("seller"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncs)
}

// handleGetSync godoc
// @Summary      Get sync progress
// @Tags         Syncs
// @Produce      json
// @Security     BearerAuth
// @Param        seller  path  string  true  "Seller ID"
// @Param        sync    path  string  true  "Sync ID"
// @Success      200  {object}  domain.SyncProgress
// @Failure      404  {object}  ErrorResponse
// @Router       /sellers/{seller}/syncs/{sync} [get]
func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	progress, err := s.orchestration.GetSyncProgress(r.Context(), r.PathValue("seller"), r.PathValue("sync"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleCancelSync godoc
// @Summary      Cancel sync
// @Description  Requests cooperative cancellation. Items already dispatched are not rolled back.
// @Tags         Syncs
// @Produce      json
// @Security     BearerAuth
// @Param        seller  path  string  true  "Seller ID"
// @Param        sync    path  string  true  "Sync ID"
// @Success      200  {object}  domain.SyncProgress
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse  "Sync already finished"
// @Router       /sellers/{seller}/syncs/{sync}/cancel [post]
func (s *Server) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	progress, err := s.orchestration.CancelSync(r.Context(), r.PathValue("seller"), r.PathValue("sync"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// Helpers

func integrationKey(w http.ResponseWriter, r *http.Request) (domain.IntegrationKey, bool) {
	key := domain.IntegrationKey{
		SellerID: r.PathValue("seller"),
		Provider: domain.ProviderName(r.PathValue("provider")),
	}
	if raw := r.URL.Query().Get("sandbox"); raw != "" {
		sandbox, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "sandbox must be a boolean")
			return key, false
		}
		key.Sandbox = sandbox
	}
	return key, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes. Timeouts are checked
// before provider errors because a timed out call is both.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnsupportedProvider),
		errors.Is(err, domain.ErrCapabilityUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrReauthRequired),
		errors.Is(err, domain.ErrAuthRejected):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotConnected),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrSyncFinished):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProviderError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
