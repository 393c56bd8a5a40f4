package daemon

import (
	"net/http"

	"rollcall/internal/api"
	"rollcall/internal/camera"
	"rollcall/internal/capture"
	"rollcall/internal/services"
)

func (s *apiServer) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.daemon.captures.Status(services.WithSessionID(r.Context(), id), principalFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromCaptureStatus(status))
}

func (s *apiServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.CaptureRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithSessionID(r.Context(), id)
	principal := principalFrom(r)

	var status capture.Status
	if *req.Active {
		status, err = s.daemon.captures.Activate(ctx, principal, id, req.Device)
	} else {
		status, err = s.daemon.captures.Deactivate(ctx, principal, id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromCaptureStatus(status))
}

func (s *apiServer) handleCameras(w http.ResponseWriter, r *http.Request) {
	devices, err := camera.Discover()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CameraListResponse{Cameras: api.FromCameras(devices, s.daemon.captures.Active())})
}
