package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/shmview/internal/api/models"
	"github.com/smazurov/shmview/internal/preview"
)

// registerFrameRoutes registers the latest-frame snapshot endpoint
func (s *Server) registerFrameRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-latest-frame",
		Method:      http.MethodGet,
		Path:        "/api/frame/latest",
		Summary:     "Latest Frame",
		Description: "The most recently decoded frame as PNG, optionally scaled to a width",
		Tags:        []string{"frames"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
		Responses: map[string]*huma.Response{
			"200": {
				Description: "PNG image",
				Content:     map[string]*huma.MediaType{"image/png": {}},
			},
		},
	}, func(_ context.Context, input *models.FrameRequest) (*models.FrameResponse, error) {
		frame := s.viewer.LatestFrame()
		if frame == nil {
			return nil, huma.Error404NotFound("no frame available")
		}
		data, err := preview.Thumbnail(frame, input.Width)
		if err != nil {
			return nil, huma.Error500InternalServerError("encode frame", err)
		}
		return &models.FrameResponse{
			ContentType: "image/png",
			FrameID:     strconv.FormatUint(frame.Header.FrameID, 10),
			Sequence:    strconv.FormatUint(frame.Header.SequenceNumber, 10),
			Body:        data,
		}, nil
	})
}

// registerPreviewRoutes registers WebRTC preview negotiation
func (s *Server) registerPreviewRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "create-preview",
		Method:      http.MethodPost,
		Path:        "/api/preview",
		Summary:     "Create Preview Peer",
		Description: "Answer an SDP offer carrying a \"frames\" data channel; telemetry and thumbnails are pushed once it opens",
		Tags:        []string{"preview"},
		Errors:      []int{400, 401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.PreviewRequest) (*models.PreviewResponse, error) {
		if s.preview == nil {
			return nil, huma.Error404NotFound(preview.ErrDisabled.Error())
		}
		answer, err := s.preview.CreatePeer(ctx, input.Body.SDP)
		if err != nil {
			if errors.Is(err, preview.ErrDisabled) {
				return nil, s.mapViewerError(err)
			}
			return nil, huma.Error400BadRequest("negotiation failed", err)
		}
		return &models.PreviewResponse{
			Body: models.PreviewData{PeerID: answer.PeerID, SDP: answer.SDP},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-preview",
		Method:      http.MethodDelete,
		Path:        "/api/preview/{peer_id}",
		Summary:     "Close Preview Peer",
		Tags:        []string{"preview"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.PreviewPeerInput) (*struct{}, error) {
		if s.preview == nil || !s.preview.ClosePeer(input.PeerID) {
			return nil, huma.Error404NotFound("preview peer not found")
		}
		return &struct{}{}, nil
	})
}
