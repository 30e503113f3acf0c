package heu3

import (
	"strconv"
	"strings"
)

// PumpState is one pump's status code as reported by RPUMP.
type PumpState int

const (
	// PumpFault means the pump has failed.
	PumpFault PumpState = 0
	// PumpGood means the pump is healthy and running.
	PumpGood PumpState = 1
	// PumpManualOff means the pump is healthy but switched off at the unit.
	PumpManualOff PumpState = 2
)

func (s PumpState) String() string {
	switch s {
	case PumpFault:
		return "fault"
	case PumpGood:
		return "good"
	case PumpManualOff:
		return "manual-off"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// Hours holds the unit's three runtime counters in hours: total time
// powered on and per-pump run time.
type Hours struct {
	Unit  int
	Pump1 int
	Pump2 int
}

// FactoryInfo identifies the unit as reported by RFINF.
type FactoryInfo struct {
	SerialNumber    string
	ProtocolVersion string
	BootCount       int
	HardwareVersion string
	SoftwareVersion string
	CompileDate     string
}

// readFloat issues command and parses a decimal reply.
func (d *Driver) readFloat(command string) (float64, error) {
	resp, err := d.SendQuery(command)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, protocolErr(command, resp, "expected a decimal number")
	}
	return v, nil
}

// readInt issues command and parses an integer reply.
func (d *Driver) readInt(command string) (int, error) {
	resp, err := d.SendQuery(command)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(resp)
	if err != nil {
		return 0, protocolErr(command, resp, "expected an integer")
	}
	return v, nil
}

// readBool issues command and parses a single-character status code.
func (d *Driver) readBool(command string) (bool, error) {
	resp, err := d.SendQuery(command)
	if err != nil {
		return false, err
	}
	switch resp {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, protocolErr(command, resp, `expected "0" or "1"`)
}

// InletTemp reads the dielectric inlet temperature in °C.
func (d *Driver) InletTemp() (float64, error) { return d.readFloat("RINTE") }

// OutletTemp reads the dielectric outlet temperature in °C.
func (d *Driver) OutletTemp() (float64, error) { return d.readFloat("ROUTT") }

// FlowRate reads the dielectric flow rate in litres per minute.
func (d *Driver) FlowRate() (float64, error) { return d.readFloat("RFLOW") }

// IsInterlocked reports whether the safety interlock has tripped. The unit
// reports "1" while the interlock output is good, so a "0" reading means
// the cutoff has fired.
func (d *Driver) IsInterlocked() (bool, error) {
	good, err := d.readBool("RINTR")
	if err != nil {
		return false, err
	}
	return !good, nil
}

// PumpStatus reads the status pair for pump 1 and pump 2.
func (d *Driver) PumpStatus() (PumpState, PumpState, error) {
	resp, err := d.SendQuery("RPUMP")
	if err != nil {
		return 0, 0, err
	}

	fields := strings.Split(resp, ",")
	if len(fields) != 2 {
		return 0, 0, protocolErr("RPUMP", resp, "expected two comma-separated status codes")
	}

	pump1, err := parsePumpState(fields[0])
	if err != nil {
		return 0, 0, protocolErr("RPUMP", resp, err.Error())
	}
	pump2, err := parsePumpState(fields[1])
	if err != nil {
		return 0, 0, protocolErr("RPUMP", resp, err.Error())
	}
	return pump1, pump2, nil
}

func parsePumpState(field string) (PumpState, error) {
	switch strings.TrimSpace(field) {
	case "0":
		return PumpFault, nil
	case "1":
		return PumpGood, nil
	case "2":
		return PumpManualOff, nil
	}
	return 0, &ProtocolError{Command: "RPUMP", Raw: field, Reason: "pump status code must be 0, 1, or 2"}
}

// HourMeters reads the runtime counters: unit-on, pump 1, and pump 2 hours.
func (d *Driver) HourMeters() (Hours, error) {
	resp, err := d.SendQuery("RHOUR")
	if err != nil {
		return Hours{}, err
	}

	fields := strings.Fields(resp)
	if len(fields) != 3 {
		return Hours{}, protocolErr("RHOUR", resp, "expected three hour counters")
	}

	var hours Hours
	for i, dst := range []*int{&hours.Unit, &hours.Pump1, &hours.Pump2} {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return Hours{}, protocolErr("RHOUR", resp, "hour counter is not an integer")
		}
		*dst = v
	}
	return hours, nil
}

// PowerDissipated reads the exchanged heat in watts, calculated by the unit
// from flow rate and inlet/outlet delta-T. Only valid with Galden HT-270
// coolant.
func (d *Driver) PowerDissipated() (int, error) { return d.readInt("RPOWR") }

// LeakDetected reads the leak detector bit.
func (d *Driver) LeakDetected() (bool, error) { return d.readBool("RLEAK") }

// Datetime reads the unit's real-time clock as free text in the form
// "mm,dd,YY, HH:MM:SS". The clock only feeds the unit's internal logs, so
// the driver does not parse it into a time.Time.
func (d *Driver) Datetime() (string, error) { return d.SendQuery("RDATI") }

// FactoryInfo reads the unit's build record: serial number, protocol
// version, boot count, hardware version, software version, and compile
// date.
func (d *Driver) FactoryInfo() (FactoryInfo, error) {
	resp, err := d.SendQuery("RFINF")
	if err != nil {
		return FactoryInfo{}, err
	}

	fields := strings.Fields(resp)
	if len(fields) != 6 {
		return FactoryInfo{}, protocolErr("RFINF", resp, "expected six fields")
	}

	boots, err := strconv.Atoi(fields[2])
	if err != nil {
		return FactoryInfo{}, protocolErr("RFINF", resp, "boot count is not an integer")
	}

	return FactoryInfo{
		SerialNumber:    fields[0],
		ProtocolVersion: fields[1],
		BootCount:       boots,
		HardwareVersion: fields[3],
		SoftwareVersion: fields[4],
		CompileDate:     fields[5],
	}, nil
}

// PumpSpeedSetting reads back the configured pump speed (RPSPD).
func (d *Driver) PumpSpeedSetting() (int, error) { return d.readInt("RPSPD") }

// PumpsEnabledSetting reads back the pumps on/off switch state (RONOF).
func (d *Driver) PumpsEnabledSetting() (bool, error) { return d.readBool("RONOF") }

// MaxTempInterlockSetting reads back the temperature interlock trip point
// in °C (RMAXT).
func (d *Driver) MaxTempInterlockSetting() (int, error) { return d.readInt("RMAXT") }

// MinFlowInterlockSetting reads back the flow interlock trip point in
// litres per minute (RMINF).
func (d *Driver) MinFlowInterlockSetting() (float64, error) { return d.readFloat("RMINF") }
