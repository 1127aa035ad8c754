package handlers

import (
	"net/http"
)

// ThrottleRequest sets the throttle.
type ThrottleRequest struct {
	Throttle *float64 `json:"throttle"`
}

// ThrottleResponse reports the throttle and its derived limits.
type ThrottleResponse struct {
	Throttle       float64 `json:"throttle"`
	Pressure       float64 `json:"pressure"`
	AdmissionLimit int     `json:"admissionLimit"`
	DispatchDelay  string  `json:"dispatchDelay"`
}

func (h *Handlers) throttleResponse() ThrottleResponse {
	st := h.miner.Status()
	return ThrottleResponse{
		Throttle:       h.miner.Throttle(),
		Pressure:       st.Pressure,
		AdmissionLimit: st.AdmissionLimit,
		DispatchDelay:  st.DispatchDelay,
	}
}

// GetThrottle returns the current throttle.
func (h *Handlers) GetThrottle(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatusCode(w, http.StatusOK, h.throttleResponse())
}

// SetThrottle changes the throttle. Values outside [0,1] are rejected.
func (h *Handlers) SetThrottle(w http.ResponseWriter, r *http.Request) {
	var req ThrottleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Throttle == nil {
		writeJSONError(w, "throttle is required", http.StatusBadRequest)
		return
	}
	if v := *req.Throttle; v < 0 || v > 1 {
		writeJSONError(w, "throttle must be between 0 and 1", http.StatusBadRequest)
		return
	}

	h.miner.SetThrottle(*req.Throttle)
	writeJSONStatusCode(w, http.StatusOK, h.throttleResponse())
}
