package server

import "github.com/aquabase/tanklink/internal/pkg/model"

type createSpaceRequest struct {
	Name string `json:"name"`
}

type registerBaseRequest struct {
	DeviceID  string `json:"device_id"`
	Name      string `json:"name"`
	ThingName string `json:"thing_name,omitempty"`
}

type attachTankRequest struct {
	DeviceID string  `json:"device_id"`
	Name     string  `json:"name"`
	Minimum  float64 `json:"minimum"`
	Maximum  float64 `json:"maximum"`
	Mode     int     `json:"mode,omitempty"`
	Range    float64 `json:"range,omitempty"`
	Capacity float64 `json:"capacity,omitempty"`
}

type controlRequest struct {
	SwitchNo model.SwitchNo `json:"switch_no"`
	Status   bool           `json:"status"`
}

type settingsRequest struct {
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
}

type settingsResponse struct {
	Confirmed bool `json:"confirmed"`
}

type aliveResponse struct {
	Alive bool `json:"alive"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

type errorResponse struct {
	Error string `json:"error"`
}
