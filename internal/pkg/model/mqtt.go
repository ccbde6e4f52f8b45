package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic roots are fixed by the box firmware. Commands go out on the device
// namespace, reports come back on the AWS IoT shadow-style namespace.
const (
	commandTopicRoot = "mqtt/device/"
	reportTopicRoot  = "$aws/things/"
)

func ControlTopic(thingName string) string {
	return commandTopicRoot + thingName + "/control"
}

func SettingTopic(thingName string) string {
	return commandTopicRoot + thingName + "/setting"
}

func SlaveRequestTopic(thingName string) string {
	return commandTopicRoot + thingName + "/slave_request"
}

func ResetTopic(thingName string) string {
	return commandTopicRoot + thingName + "/reset"
}

func AliveTopic(thingName string) string {
	return commandTopicRoot + thingName + "/alive"
}

// ReportSubscriptions lists the wildcard filters covering every inbound
// report kind.
func ReportSubscriptions() []string {
	return []string{
		reportTopicRoot + "+/update",
		reportTopicRoot + "+/alive_reply",
		reportTopicRoot + "+/slave_response",
	}
}

// ParseReportTopic splits an inbound report topic into the thing name and
// the report kind.
func ParseReportTopic(topic string) (string, ResponseKind, bool) {
	rest, found := strings.CutPrefix(topic, reportTopicRoot)
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	kind := ResponseKind(parts[1])
	switch kind {
	case ResponseUpdate, ResponseAlive, ResponseSlave:
		return parts[0], kind, true
	}
	return "", "", false
}

// StatusString renders a switch state the way the firmware expects it.
func StatusString(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

type ControlPayload struct {
	DeviceID string   `json:"deviceid"`
	SwitchNo SwitchNo `json:"switch_no"`
	Status   string   `json:"status"`
	Trigger  string   `json:"trigger,omitempty"`
}

type SettingPayload struct {
	DeviceID string    `json:"deviceid"`
	SensorNo SlaveName `json:"sensor_no"`
	SwitchNo SwitchNo  `json:"switch_no"`
	Maximum  float64   `json:"maximum"`
	Minimum  float64   `json:"minimum"`
}

// Slave pairing modes the firmware understands.
const (
	SlaveModeWifi        = 1
	SlaveModeWithoutWifi = 3
)

type SlaveRequestPayload struct {
	DeviceID string    `json:"deviceid"`
	SlaveNo  SlaveName `json:"slave_no"`
	Mode     int       `json:"mode"`
	Range    float64   `json:"range"`
	Capacity float64   `json:"capacity"`
}

type ResetPayload struct {
	DeviceID string    `json:"deviceid"`
	SlaveNo  SlaveName `json:"slave_no"`
	SlaveID  string    `json:"slaveid"`
}

type AlivePayload struct {
	DeviceID string `json:"deviceid"`
}

// ReportPayload is the loosely typed body devices publish on report topics.
// Firmware revisions disagree on number vs string encoding, so the flexible
// scalar types absorb both.
type ReportPayload struct {
	DeviceID string    `json:"deviceid"`
	Device   string    `json:"device,omitempty"`
	SwitchNo SwitchNo  `json:"switch_no,omitempty"`
	SensorNo SlaveName `json:"sensor_no,omitempty"`
	SlaveNo  SlaveName `json:"slave_no,omitempty"`
	SlaveID  string    `json:"slaveid,omitempty"`
	Status   *Status   `json:"status,omitempty"`
	Level    *Number   `json:"level,omitempty"`
	Value    *Number   `json:"value,omitempty"`
}

// LevelValue returns the reported fill level, preferring the level field
// over the older value alias.
func (p ReportPayload) LevelValue() (float64, bool) {
	if p.Level != nil {
		return float64(*p.Level), true
	}
	if p.Value != nil {
		return float64(*p.Value), true
	}
	return 0, false
}

// Number decodes JSON numbers that may arrive quoted.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parsing %q as number: %w", s, err)
	}
	*n = Number(f)
	return nil
}

// Status decodes the zoo of on/off encodings firmware emits.
type Status bool

func (st *Status) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "on", "true", "1":
		*st = true
	case "off", "false", "0", "null", "":
		*st = false
	default:
		return fmt.Errorf("unrecognised status %q", s)
	}
	return nil
}

func (st Status) Bool() bool {
	return bool(st)
}
