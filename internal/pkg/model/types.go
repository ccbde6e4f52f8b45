package model

type DeviceType string

func (dt DeviceType) String() string {
	return string(dt)
}

const (
	DeviceTypeBase DeviceType = "base"
	DeviceTypeTank DeviceType = "tank"
)

func (dt DeviceType) Valid() bool {
	return dt == DeviceTypeBase || dt == DeviceTypeTank
}

type SwitchNo string

func (s SwitchNo) String() string {
	return string(s)
}

const (
	SwitchBM1 SwitchNo = "BM1"
	SwitchBM2 SwitchNo = "BM2"
)

// SwitchNos is the slot order used everywhere a base's switches are walked.
var SwitchNos = []SwitchNo{SwitchBM1, SwitchBM2}

func (s SwitchNo) Valid() bool {
	return s == SwitchBM1 || s == SwitchBM2
}

// SlaveName identifies a tank slot on its parent base.
type SlaveName string

func (s SlaveName) String() string {
	return string(s)
}

const (
	SlaveTM1 SlaveName = "TM1"
	SlaveTM2 SlaveName = "TM2"
)

var SlaveNames = []SlaveName{SlaveTM1, SlaveTM2}

// SlaveForSwitch maps a base switch slot to the tank slot it carries.
var SlaveForSwitch = map[SwitchNo]SlaveName{
	SwitchBM1: SlaveTM1,
	SwitchBM2: SlaveTM2,
}

type Operator string

func (o Operator) String() string {
	return string(o)
}

const (
	OperatorLess      Operator = "<"
	OperatorLessEq    Operator = "<="
	OperatorGreater   Operator = ">"
	OperatorGreaterEq Operator = ">="
	OperatorEqual     Operator = "=="
)

var Operators = []Operator{
	OperatorLess,
	OperatorLessEq,
	OperatorGreater,
	OperatorGreaterEq,
	OperatorEqual,
}

func (o Operator) Valid() bool {
	for _, op := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

type EventType string

func (e EventType) String() string {
	return string(e)
}

const (
	EventSetupAction   EventType = "SETUP_ACTION"
	EventDeviceOffline EventType = "DEVICE_OFFLINE"
	EventDeviceOnline  EventType = "DEVICE_ONLINE"
	EventSlaveAdded    EventType = "SLAVE_ADDED"
)

// ResponseKind partitions correlation records by the inbound topic suffix
// they arrived on.
type ResponseKind string

func (rk ResponseKind) String() string {
	return string(rk)
}

const (
	ResponseSlave  ResponseKind = "slave_response"
	ResponseAlive  ResponseKind = "alive_reply"
	ResponseUpdate ResponseKind = "update"
)
