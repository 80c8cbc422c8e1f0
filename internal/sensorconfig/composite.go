package sensorconfig

import (
	"fmt"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
)

// Wait durations after each primitive write (spec §4.2). These are
// minimums; callers may wait longer but MUST NOT proceed sooner.
const (
	WaitAfterUnlock       = 100 * time.Millisecond
	WaitAfterSave         = 200 * time.Millisecond
	WaitAfterRestart      = 2 * time.Second
	WaitAfterFactoryReset = 1 * time.Second
)

// StepError names which step of a composite operation failed, so callers
// can report precisely rather than just "factory reset failed".
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sensorconfig: step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// sleeper abstracts time.Sleep so tests can run composite operations
// without actually waiting out multi-second settle times.
type sleeper func(time.Duration)

// Unlock writes KEY=0xB588 and waits the mandatory settle time before any
// other configuration write may be issued.
func Unlock(c *ConfigProtocol) error {
	return unlock(c, time.Sleep)
}

func unlock(c *ConfigProtocol, sleep sleeper) error {
	if err := c.Write(RegKey, UnlockValue); err != nil {
		return &StepError{Step: "unlock", Err: err}
	}
	sleep(WaitAfterUnlock)
	return nil
}

// Save writes SAVE=0x0000, persisting whatever configuration writes
// preceded it in this session.
func Save(c *ConfigProtocol) error {
	return save(c, time.Sleep)
}

func save(c *ConfigProtocol, sleep sleeper) error {
	if err := c.Write(RegSave, SaveValueSave); err != nil {
		return &StepError{Step: "save", Err: err}
	}
	sleep(WaitAfterSave)
	return nil
}

// Restart writes SAVE=0x00FF, rebooting the sensor; the serial link stays
// open but the data stream restarts after the wait.
func Restart(c *ConfigProtocol) error {
	return restart(c, time.Sleep)
}

func restart(c *ConfigProtocol, sleep sleeper) error {
	if err := c.Write(RegSave, SaveValueRestart); err != nil {
		return &StepError{Step: "restart", Err: err}
	}
	sleep(WaitAfterRestart)
	return nil
}

// FactoryReset runs Unlock -> write(SAVE,0x0001) -> wait -> Save ->
// Restart. After this returns successfully the sensor's baudrate has
// reverted to 9600 and the caller MUST reopen the port at that rate.
func FactoryReset(c *ConfigProtocol) error {
	return factoryReset(c, time.Sleep)
}

func factoryReset(c *ConfigProtocol, sleep sleeper) error {
	if err := unlock(c, sleep); err != nil {
		return err
	}
	if err := c.Write(RegSave, SaveValueFactoryReset); err != nil {
		return &StepError{Step: "factory_reset_write", Err: err}
	}
	sleep(WaitAfterFactoryReset)
	if err := save(c, sleep); err != nil {
		return err
	}
	if err := restart(c, sleep); err != nil {
		return err
	}
	return nil
}

// VerifyBaudrate performs a register read with a short timeout and
// reports success iff a valid 0x5F response arrives in time.
func VerifyBaudrate(c *ConfigProtocol) bool {
	_, err := c.Read(RegRSW)
	return err == nil
}

// VerifyFactoryReset confirms RSW/RRATE/BAUD all hold their post-reset
// factory values.
func VerifyFactoryReset(c *ConfigProtocol) error {
	rsw, err := c.Read(RegRSW)
	if err != nil {
		return &StepError{Step: "verify_rsw", Err: err}
	}
	if rsw != RSWDefaultFactory {
		return &StepError{Step: "verify_rsw", Err: fmt.Errorf("got 0x%04X, want 0x%04X", rsw, RSWDefaultFactory)}
	}

	rrate, err := c.Read(RegRRate)
	if err != nil {
		return &StepError{Step: "verify_rrate", Err: err}
	}
	if rrate != 6 {
		return &StepError{Step: "verify_rrate", Err: fmt.Errorf("got code %d, want 6 (10Hz)", rrate)}
	}

	baud, err := c.Read(RegBaud)
	if err != nil {
		return &StepError{Step: "verify_baud", Err: err}
	}
	if baud != 2 {
		return &StepError{Step: "verify_baud", Err: fmt.Errorf("got code %d, want 2 (9600)", baud)}
	}
	return nil
}

// --- §6.2 abstract command API ---

// ReadConfig reads RSW, RRATE, and BAUD in one call, the read_config
// command of the boundary API.
type ReadConfigResult struct {
	RSW, RRate, Baud uint16
}

func ReadConfig(c *ConfigProtocol) (ReadConfigResult, error) {
	rsw, err := c.Read(RegRSW)
	if err != nil {
		return ReadConfigResult{}, &StepError{Step: "read_rsw", Err: err}
	}
	rrate, err := c.Read(RegRRate)
	if err != nil {
		return ReadConfigResult{}, &StepError{Step: "read_rrate", Err: err}
	}
	baud, err := c.Read(RegBaud)
	if err != nil {
		return ReadConfigResult{}, &StepError{Step: "read_baud", Err: err}
	}
	return ReadConfigResult{RSW: rsw, RRate: rrate, Baud: baud}, nil
}

// SetRate is the set_rate command: unlock, write RRATE, save.
func SetRate(c *ConfigProtocol, hz float64) error {
	code, ok := RateCode(hz)
	if !ok {
		return fmt.Errorf("sensorconfig: unsupported rate %v hz", hz)
	}
	if err := Unlock(c); err != nil {
		return err
	}
	if err := c.Write(RegRRate, code); err != nil {
		return &StepError{Step: "set_rate_write", Err: err}
	}
	return Save(c)
}

// SetOutput is the set_output command: unlock, write the RSW bitmask
// built from content tags, save. Unknown tags are ignored with a warning.
func SetOutput(c *ConfigProtocol, tags []string) error {
	mask, unknown := RSWBitmaskForTags(tags)
	for _, tag := range unknown {
		monitoring.Logf("sensorconfig: set_output: ignoring unknown content tag %q", tag)
	}
	if err := Unlock(c); err != nil {
		return err
	}
	if err := c.Write(RegRSW, mask); err != nil {
		return &StepError{Step: "set_output_write", Err: err}
	}
	return Save(c)
}

// SetBaudrate is the set_baudrate command: unlock, write BAUD, save. The
// caller MUST reopen the serial port at the new rate afterward.
func SetBaudrate(c *ConfigProtocol, baud int) error {
	code, ok := BaudCode(baud)
	if !ok {
		return fmt.Errorf("sensorconfig: unsupported baudrate %d", baud)
	}
	if err := Unlock(c); err != nil {
		return err
	}
	if err := c.Write(RegBaud, code); err != nil {
		return &StepError{Step: "set_baudrate_write", Err: err}
	}
	return Save(c)
}

// RawHex passes exactly 5 raw bytes through as a write command, per the
// raw_hex boundary command.
func RawHex(port Port, fiveBytes [5]byte) error {
	n, err := port.Write(fiveBytes[:])
	if err != nil {
		return fmt.Errorf("sensorconfig: raw_hex write: %w", err)
	}
	if n != len(fiveBytes) {
		return fmt.Errorf("%w: raw_hex short write %d/%d bytes", ErrWriteFailed, n, len(fiveBytes))
	}
	return nil
}
