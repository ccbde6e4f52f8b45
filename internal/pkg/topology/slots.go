package topology

import (
	"fmt"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

// FreeSlot picks the switch slot and slave name for the next tank on a
// base: the first unoccupied slot in BM1,BM2 order. A base carries at most
// two tanks.
func FreeSlot(tanks []model.Device) (model.SwitchNo, model.SlaveName, error) {
	if len(tanks) >= len(model.SwitchNos) {
		return "", "", fmt.Errorf("both slots taken: %w", model.ErrSlotsFull)
	}

	occupied := map[model.SlaveName]bool{}
	for _, tank := range tanks {
		if tank.Parent != nil {
			occupied[tank.Parent.SlaveName] = true
		}
	}

	for _, switchNo := range model.SwitchNos {
		slave := model.SlaveForSwitch[switchNo]
		if !occupied[slave] {
			return switchNo, slave, nil
		}
	}
	return "", "", fmt.Errorf("both slots taken: %w", model.ErrSlotsFull)
}
