package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/shmview/internal/api/models"
	"github.com/smazurov/shmview/internal/supervisor"
)

const noProducerMessage = "no producer command configured"

// registerProducerRoutes registers the supervised producer endpoints
func (s *Server) registerProducerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-producer",
		Method:      http.MethodGet,
		Path:        "/api/producer",
		Summary:     "Producer Status",
		Description: "State of the producer process started by shmview",
		Tags:        []string{"producer"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ProducerResponse, error) {
		if s.producer == nil {
			return nil, huma.Error404NotFound(noProducerMessage)
		}
		return &models.ProducerResponse{Body: models.ProducerFromInfo(s.producer.Info())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restart-producer",
		Method:      http.MethodPost,
		Path:        "/api/producer/restart",
		Summary:     "Restart Producer",
		Description: "Stop the producer process and start it again",
		Tags:        []string{"producer"},
		Errors:      []int{401, 404, 409},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ProducerResponse, error) {
		if s.producer == nil {
			return nil, huma.Error404NotFound(noProducerMessage)
		}
		if err := s.producer.Restart(); err != nil {
			if errors.Is(err, supervisor.ErrNotRunning) {
				return nil, huma.Error409Conflict(err.Error())
			}
			return nil, huma.Error500InternalServerError("restart failed", err)
		}
		return &models.ProducerResponse{Body: models.ProducerFromInfo(s.producer.Info())}, nil
	})
}
