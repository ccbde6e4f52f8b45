package model

import (
	"fmt"
	"time"
)

type Space struct {
	ID        string    `json:"space_id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Switch struct {
	No        SwitchNo `json:"switch_no"`
	Status    bool     `json:"status"`
	ThingName string   `json:"thing_name,omitempty"`
}

// TankAttachment records where a tank hangs off its parent base.
type TankAttachment struct {
	ParentDeviceID string    `json:"parent_device_id"`
	ParentSwitchNo SwitchNo  `json:"parent_switch_no"`
	SlaveName      SlaveName `json:"slave_name"`
}

type Device struct {
	ID        string          `json:"device_id"`
	SpaceID   string          `json:"space_id"`
	OwnerID   string          `json:"owner_id"`
	Type      DeviceType      `json:"device_type"`
	Name      string          `json:"device_name"`
	Online    bool            `json:"online_status"`
	Switches  []Switch        `json:"switches,omitempty"`
	Parent    *TankAttachment `json:"parent,omitempty"`
	Level     float64         `json:"level"`
	Minimum   float64         `json:"minimum"`
	Maximum   float64         `json:"maximum"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (d *Device) Switch(no SwitchNo) (*Switch, bool) {
	for i := range d.Switches {
		if d.Switches[i].No == no {
			return &d.Switches[i], true
		}
	}
	return nil, false
}

// ThingName resolves a base's transport address: the first non-empty thing
// name in slot order. Tanks resolve through their parent, which callers must
// load separately.
func (d *Device) ThingName() string {
	for _, no := range SwitchNos {
		if sw, ok := d.Switch(no); ok && sw.ThingName != "" {
			return sw.ThingName
		}
	}
	return ""
}

// ClampLevel pins a reported fill level into the 0-100 percent range.
func ClampLevel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type ChangeKind string

const (
	ChangeSwitch ChangeKind = "switch"
	ChangeLevel  ChangeKind = "level"
)

// StateChange is the authoritative just-received state a rule pass evaluates
// against, regardless of what later reads of the store would return.
type StateChange struct {
	Kind     ChangeKind
	DeviceID string
	SpaceID  string
	SwitchNo SwitchNo
	Status   bool
	Level    float64
}

// Condition is the tagged union a setup watches: DeviceType selects the
// variant, the pointer fields distinguish absent from zero.
type Condition struct {
	DeviceID   string     `json:"device_id"`
	DeviceType DeviceType `json:"device_type"`
	SwitchNo   SwitchNo   `json:"switch_no,omitempty"`
	Status     *bool      `json:"status,omitempty"`
	Minimum    *float64   `json:"minimum,omitempty"`
	Maximum    *float64   `json:"maximum,omitempty"`
	Operator   Operator   `json:"operator,omitempty"`
}

func (c Condition) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("condition device_id is required: %w", ErrValidation)
	}
	switch c.DeviceType {
	case DeviceTypeBase:
		if !c.SwitchNo.Valid() {
			return fmt.Errorf("base condition needs switch_no BM1 or BM2: %w", ErrValidation)
		}
		if c.Status == nil {
			return fmt.Errorf("base condition needs status: %w", ErrValidation)
		}
		if c.Minimum != nil || c.Maximum != nil || c.Operator != "" {
			return fmt.Errorf("base condition cannot carry tank thresholds: %w", ErrValidation)
		}
	case DeviceTypeTank:
		if !c.Operator.Valid() {
			return fmt.Errorf("tank condition needs a comparison operator: %w", ErrValidation)
		}
		switch c.Operator {
		case OperatorLess, OperatorLessEq:
			if c.Minimum == nil {
				return fmt.Errorf("operator %s compares against minimum: %w", c.Operator, ErrValidation)
			}
		default:
			if c.Maximum == nil {
				return fmt.Errorf("operator %s compares against maximum: %w", c.Operator, ErrValidation)
			}
		}
		if c.Minimum != nil && c.Maximum != nil && *c.Minimum >= *c.Maximum {
			return fmt.Errorf("tank condition needs minimum < maximum: %w", ErrValidation)
		}
		if c.Status != nil || c.SwitchNo != "" {
			return fmt.Errorf("tank condition cannot carry switch fields: %w", ErrValidation)
		}
	default:
		return fmt.Errorf("unknown condition device_type %q: %w", c.DeviceType, ErrValidation)
	}
	return nil
}

// Matches reports whether the just-received change satisfies the condition.
// Tank comparisons with < and <= run against minimum, the rest against
// maximum.
func (c Condition) Matches(ch StateChange) bool {
	if ch.DeviceID != c.DeviceID {
		return false
	}
	switch c.DeviceType {
	case DeviceTypeBase:
		if ch.Kind != ChangeSwitch || c.Status == nil {
			return false
		}
		return ch.SwitchNo == c.SwitchNo && ch.Status == *c.Status
	case DeviceTypeTank:
		if ch.Kind != ChangeLevel {
			return false
		}
		switch c.Operator {
		case OperatorLess:
			return c.Minimum != nil && ch.Level < *c.Minimum
		case OperatorLessEq:
			return c.Minimum != nil && ch.Level <= *c.Minimum
		case OperatorGreater:
			return c.Maximum != nil && ch.Level > *c.Maximum
		case OperatorGreaterEq:
			return c.Maximum != nil && ch.Level >= *c.Maximum
		case OperatorEqual:
			return c.Maximum != nil && ch.Level == *c.Maximum
		}
	}
	return false
}

type Action struct {
	DeviceID  string   `json:"device_id"`
	SwitchNo  SwitchNo `json:"switch_no"`
	SetStatus bool     `json:"status"`
	DelaySecs int      `json:"delay"`
}

func (a Action) Validate() error {
	if a.DeviceID == "" {
		return fmt.Errorf("action device_id is required: %w", ErrValidation)
	}
	if !a.SwitchNo.Valid() {
		return fmt.Errorf("action switch_no must be BM1 or BM2: %w", ErrValidation)
	}
	if a.DelaySecs < 0 {
		return fmt.Errorf("action delay cannot be negative: %w", ErrValidation)
	}
	return nil
}

// Setup is one automation rule: a single condition plus an ordered action
// list.
type Setup struct {
	ID            string     `json:"setup_id"`
	SpaceID       string     `json:"space_id"`
	Name          string     `json:"name"`
	Active        bool       `json:"active"`
	Condition     Condition  `json:"condition"`
	Actions       []Action   `json:"actions"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (s *Setup) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("setup name is required: %w", ErrValidation)
	}
	if err := s.Condition.Validate(); err != nil {
		return err
	}
	if len(s.Actions) == 0 {
		return fmt.Errorf("setup needs at least one action: %w", ErrValidation)
	}
	for i, a := range s.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// SwitchState is one pending switch write in a rule execution batch.
type SwitchState struct {
	DeviceID string   `json:"device_id"`
	SwitchNo SwitchNo `json:"switch_no"`
	Status   bool     `json:"status"`
}

type Notification struct {
	ID             string    `json:"notification_id"`
	SpaceID        string    `json:"space_id"`
	Type           EventType `json:"event_type"`
	DeviceID       string    `json:"device_id,omitempty"`
	DeviceName     string    `json:"device_name,omitempty"`
	SwitchNo       SwitchNo  `json:"switch_no,omitempty"`
	RuleName       string    `json:"rule_name,omitempty"`
	PreviousStatus *bool     `json:"previous_status,omitempty"`
	NewStatus      *bool     `json:"new_status,omitempty"`
	Message        string    `json:"message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TankReading is one point of level history.
type TankReading struct {
	DeviceID string    `json:"device_id"`
	Level    float64   `json:"level"`
	Time     time.Time `json:"time"`
}
