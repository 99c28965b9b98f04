package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/middleware"
	"github.com/sanoy-si/doom-blocker-backend/models"
	"github.com/sanoy-si/doom-blocker-backend/services"
	"github.com/sanoy-si/doom-blocker-backend/services/prompt"
	"github.com/sanoy-si/doom-blocker-backend/utils"
)

// maxBodyBytes bounds the request body; 50 grids of truncated page text fit well inside it
const maxBodyBytes = 2 << 20

func init() {
	if err := utils.RegisterValidation("safeterm", func(fl validator.FieldLevel) bool {
		return prompt.IsSafeTerm(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// Decider produces a filtering decision for one request
type Decider interface {
	Decide(ctx context.Context, req *models.FilterRequest) (models.Decision, error)
}

// GridStructureBody is the page snapshot sent by the extension
type GridStructureBody struct {
	Timestamp  string        `json:"timestamp"`
	TotalGrids int           `json:"totalGrids"`
	Grids      []models.Grid `json:"grids" validate:"max=50"`
}

// FilterRequestBody represents the request body for POST /fetch_distracting_chunks
type FilterRequestBody struct {
	GridStructure *GridStructureBody `json:"gridStructure" validate:"required"`
	CurrentURL    string             `json:"currentUrl" validate:"max=4096"`
	Whitelist     []string           `json:"whitelist" validate:"max=100,dive,max=100,safeterm"`
	Blacklist     []string           `json:"blacklist" validate:"max=100,dive,max=100,safeterm"`
	VisitorID     string             `json:"visitorId" validate:"max=128"`
}

// FilterHandler serves filtering decisions
type FilterHandler struct {
	decider Decider
	logger  *zap.Logger
}

func NewFilterHandler(decider Decider, logger *zap.Logger) *FilterHandler {
	return &FilterHandler{
		decider: decider,
		logger:  logger,
	}
}

// HandleFetchDistractingChunks handles POST /fetch_distracting_chunks.
// The response body is the decision in wire form: [{"g1":["g1c0"]}].
func (h *FilterHandler) HandleFetchDistractingChunks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	identity := middleware.ClientIdentity(r)

	var body FilterRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.logger.Warn("failed to decode request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := utils.ValidateStruct(body); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	grid := &models.GridStructure{
		Timestamp:  body.GridStructure.Timestamp,
		TotalGrids: body.GridStructure.TotalGrids,
		Grids:      body.GridStructure.Grids,
	}
	req, err := models.NewFilterRequest(grid, body.CurrentURL, body.Whitelist, body.Blacklist, identity)
	if err != nil {
		HandleServiceError(w, services.NewValidationError(err.Error(), err), h.logger)
		return
	}
	req.WithVisitor(body.VisitorID, requestID)

	h.logger.Debug("filter request received",
		zap.String("request_id", requestID),
		zap.String("url", req.URL),
		zap.Int("grids", len(req.Grid.Grids)),
		zap.Int("children", req.Grid.TotalChildren()))

	decision, err := h.decider.Decide(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// client is gone, nothing useful to write
			h.logger.Info("request cancelled",
				zap.String("request_id", requestID),
				zap.Error(err))
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, decision); err != nil {
		h.logger.Error("failed to write decision", zap.String("request_id", requestID), zap.Error(err))
	}
}
