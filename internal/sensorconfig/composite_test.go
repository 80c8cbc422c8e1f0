package sensorconfig

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"
)

func noSleep(time.Duration) {}

func TestSetRateByteLog(t *testing.T) {
	sensor := newVirtualSensor()
	sensor.echoReads = true
	c := New(sensor)
	c.SetReadTimeout(50 * time.Millisecond)

	if err := unlock(c, noSleep); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	code, ok := RateCode(200)
	if !ok {
		t.Fatalf("expected 200hz to be a supported rate")
	}
	if err := c.Write(RegRRate, code); err != nil {
		t.Fatalf("write rrate: %v", err)
	}
	if err := save(c, noSleep); err != nil {
		t.Fatalf("save: %v", err)
	}

	log := sensor.byteLog()
	if !bytes.HasPrefix(log, mustHex("FFAA6988B5")) {
		t.Errorf("byte log must begin with unlock command FF AA 69 88 B5, got % X", log[:min(5, len(log))])
	}
	if !bytes.Contains(log, mustHex("FFAA030B00")) {
		t.Errorf("byte log must contain RRATE=200Hz write FF AA 03 0B 00, got % X", log)
	}
	if !bytes.HasSuffix(log, mustHex("FFAA000000")) {
		t.Errorf("byte log must end with save command FF AA 00 00 00, got % X", log[len(log)-5:])
	}
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestFactoryResetSequence(t *testing.T) {
	sensor := newVirtualSensor()
	c := New(sensor)

	if err := factoryReset(c, noSleep); err != nil {
		t.Fatalf("factory reset: %v", err)
	}

	log := sensor.byteLog()
	if !bytes.Contains(log, mustHex("FFAA6988B5")) {
		t.Errorf("expected an unlock command in the log")
	}
	if !bytes.Contains(log, mustHex("FFAA000100")) {
		t.Errorf("expected SAVE=0x0001 (factory reset) write in the log")
	}
	if !bytes.Contains(log, mustHex("FFAA0000FF")) {
		t.Errorf("expected SAVE=0x00FF (restart) write in the log")
	}
}

func TestFactoryResetRequiresReopenAt9600(t *testing.T) {
	// Models the scenario where, after factory reset, a read at the old
	// baudrate times out and only reopening at 9600 succeeds.
	sensorAt115200 := newVirtualSensor()
	sensorAt115200.echoReads = false // nothing answers at the stale rate
	c := New(sensorAt115200)
	c.SetReadTimeout(10 * time.Millisecond)

	if VerifyBaudrate(c) {
		t.Fatalf("expected verify to fail against a sensor that reset its baudrate")
	}

	sensorAt9600 := newVirtualSensor()
	sensorAt9600.echoReads = true
	sensorAt9600.regs = [4]uint16{RSWDefaultFactory, 0, 0, 0}
	c2 := New(sensorAt9600)
	c2.SetReadTimeout(50 * time.Millisecond)

	if !VerifyBaudrate(c2) {
		t.Fatalf("expected verify to succeed after reopening at 9600")
	}
}

func TestVerifyFactoryReset(t *testing.T) {
	sensor := newVirtualSensor()
	sensor.echoReads = true
	// Factory defaults: RSW=0x001E, RRATE code 6 (10 Hz), BAUD code 2 (9600).
	sensor.regs = [4]uint16{RSWDefaultFactory, 6, 2, 0}
	c := New(sensor)
	c.SetReadTimeout(50 * time.Millisecond)

	if err := VerifyFactoryReset(c); err != nil {
		t.Fatalf("verify factory reset: %v", err)
	}
}
