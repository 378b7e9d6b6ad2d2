package treadmill

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ControlState is what the control server reports
type ControlState struct {
	Reading
	HeartRateOverride float64 `json:"heartRateOverride"`
	PowerOverride     float64 `json:"powerOverride"`
}

// Handler serves the control API:
//
//	GET  /api/state  current reading as JSON
//	POST /api/set    heartRate, power (0 turns the override off), speedKph, incline, resetConsole=1
func (s *Simulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleGetState)
	mux.HandleFunc("/api/set", s.handleSetValues)
	return mux
}

func (s *Simulator) handleGetState(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	state := ControlState{
		Reading:           s.reading,
		HeartRateOverride: s.hrOverride,
		PowerOverride:     s.powerOverride,
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		s.logger.WithError(err).Warn("Simulator: Failed to encode state")
	}
}

func (s *Simulator) handleSetValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	values := map[string]*float64{}
	for _, name := range []string{"heartRate", "power", "speedKph", "incline"} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			http.Error(w, fmt.Sprintf("invalid %s %q", name, raw), http.StatusBadRequest)
			return
		}
		values[name] = &v
	}

	s.setOverrides(values["heartRate"], values["power"])
	if v := values["speedKph"]; v != nil {
		s.SetTargetSpeed(*v)
	}
	if v := values["incline"]; v != nil {
		s.SetTargetIncline(*v)
	}
	if query.Get("resetConsole") == "1" {
		s.ResetConsole()
	}
	s.logger.WithField("query", r.URL.RawQuery).Info("Simulator: Values set through control server")
	w.WriteHeader(http.StatusOK)
}
