package heu3

import (
	"fmt"
	"strconv"
	"strings"
)

// Setting ranges enforced before any command reaches the wire.
const (
	MinPumpSpeed = 0
	MaxPumpSpeed = 999

	MinMaxTempInterlockC = 5
	MaxMaxTempInterlockC = 65

	MinFlowInterlockLPM = 0.5
)

// Ping checks liveness. The unit answers every "!" with "WAZOO!".
func (d *Driver) Ping() error {
	resp, err := d.SendQuery("!")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "WAZOO") {
		return protocolErr("!", resp, "expected WAZOO reply")
	}
	return nil
}

// SetEcho enables (EE) or disables (DE) response echo. The unit powers up
// with echo enabled.
func (d *Driver) SetEcho(on bool) error {
	command := "DE"
	if on {
		command = "EE"
	}
	if _, err := d.SendQuery(command); err != nil {
		return err
	}

	d.mu.Lock()
	d.echo = on
	d.mu.Unlock()
	return nil
}

// SetPanel enables (EP) or disables (DP) the touchscreen panel. With the
// panel disabled only the pumps on/off button still works.
func (d *Driver) SetPanel(on bool) error {
	command := "DP"
	if on {
		command = "EP"
	}
	_, err := d.SendQuery(command)
	return err
}

// SetPumps turns the pumps on (ON) or off (OFF).
func (d *Driver) SetPumps(on bool) error {
	command := "OFF"
	if on {
		command = "ON"
	}
	_, err := d.SendQuery(command)
	return err
}

// SetPumpSpeed sets the pump speed, 0 to 999, zero-padded to three digits
// on the wire.
func (d *Driver) SetPumpSpeed(speed int) error {
	if speed < MinPumpSpeed || speed > MaxPumpSpeed {
		return &InvalidArgumentError{
			Field:  "pump speed",
			Value:  speed,
			Reason: "must be between 0 and 999",
		}
	}
	_, err := d.SendQuery(fmt.Sprintf("SPS%03d", speed))
	return err
}

// SetMaxTempInterlock sets the maximum temperature for the safety interlock
// in whole °C, 5 to 65.
func (d *Driver) SetMaxTempInterlock(degC int) error {
	if degC < MinMaxTempInterlockC || degC > MaxMaxTempInterlockC {
		return &InvalidArgumentError{
			Field:  "max temperature interlock",
			Value:  degC,
			Reason: "must be between 5 and 65",
		}
	}
	_, err := d.SendQuery(fmt.Sprintf("SMAXT%02d", degC))
	return err
}

// SetMinFlowInterlock sets the minimum flow rate for the safety interlock
// in litres per minute. The wire format is exactly two decimal places, so
// valid setpoints run from 0.50 to 9.99; anything that would round to 10.00
// is rejected.
func (d *Driver) SetMinFlowInterlock(lpm float64) error {
	arg := strconv.FormatFloat(lpm, 'f', 2, 64)
	if lpm < MinFlowInterlockLPM || len(arg) != 4 {
		return &InvalidArgumentError{
			Field:  "min flow interlock",
			Value:  lpm,
			Reason: "must be between 0.50 and 9.99",
		}
	}
	_, err := d.SendQuery("SMINF" + arg)
	return err
}

// SelectPumps chooses which pumps the ON command activates: 0 for both,
// 1 for pump 1, 2 for pump 2.
func (d *Driver) SelectPumps(pump int) error {
	if pump < 0 || pump > 2 {
		return &InvalidArgumentError{
			Field:  "pump selector",
			Value:  pump,
			Reason: "must be 0 (both), 1, or 2",
		}
	}
	_, err := d.SendQuery(fmt.Sprintf("SPONO%d", pump))
	return err
}
