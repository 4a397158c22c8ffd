package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyShiftSHLWidth64CarryOut(t *testing.T) {
	e := newTestEmulator(0x1000)
	// bit 63 is set; shifting left by 1 must report it via CF even
	// though the 64-bit result itself has nowhere left to hold it.
	r := e.applyShift(shSHL, Width64, uint64(1)<<63, 1)
	assert.Equal(t, uint64(0), r)
	assert.True(t, e.Flg.CF())
	assert.True(t, e.Flg.ZF())
}

func TestApplyShiftSHLWidth64NoCarry(t *testing.T) {
	e := newTestEmulator(0x1000)
	r := e.applyShift(shSHL, Width64, 1, 4)
	assert.Equal(t, uint64(0x10), r)
	assert.False(t, e.Flg.CF())
}

func TestApplyShiftSHLWidth32MatchesNarrowPath(t *testing.T) {
	e := newTestEmulator(0x1000)
	r := e.applyShift(shSHL, Width32, 0x80000000, 1)
	assert.Equal(t, uint64(0), r)
	assert.True(t, e.Flg.CF())
}

func TestApplyShiftZeroCountLeavesFlagsUntouched(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Flg.SetCF(true)
	e.Flg.SetZF(true)
	r := e.applyShift(shSHL, Width8, 0x01, 0)
	assert.Equal(t, uint64(0x01), r)
	assert.True(t, e.Flg.CF())
	assert.True(t, e.Flg.ZF())
}

func TestApplyShiftSHRSetsCFFromLastBitOut(t *testing.T) {
	e := newTestEmulator(0x1000)
	r := e.applyShift(shSHR, Width8, 0x03, 1)
	assert.Equal(t, uint64(0x01), r)
	assert.True(t, e.Flg.CF())
}

func TestApplyShiftSARPreservesSign(t *testing.T) {
	e := newTestEmulator(0x1000)
	r := e.applyShift(shSAR, Width8, 0x80, 4)
	assert.Equal(t, uint64(0xf8), r)
	assert.True(t, e.Flg.SF())
}

func TestApplyShiftROLWraps(t *testing.T) {
	e := newTestEmulator(0x1000)
	r := e.applyShift(shROL, Width8, 0x81, 1)
	assert.Equal(t, uint64(0x03), r)
	assert.True(t, e.Flg.CF())
}

func TestApplyShiftRORWraps(t *testing.T) {
	e := newTestEmulator(0x1000)
	r := e.applyShift(shROR, Width8, 0x01, 1)
	assert.Equal(t, uint64(0x80), r)
	assert.True(t, e.Flg.CF())
}

func TestApplyShiftRCLThreadsCarryThroughRotation(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Flg.SetCF(true)
	r := e.applyShift(shRCL, Width8, 0x00, 1)
	assert.Equal(t, uint64(0x01), r)
	assert.False(t, e.Flg.CF())
}

func TestApplyShiftRCRThreadsCarryThroughRotation(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Flg.SetCF(true)
	r := e.applyShift(shRCR, Width8, 0x00, 1)
	assert.Equal(t, uint64(0x80), r)
	assert.False(t, e.Flg.CF())
}

func TestShiftCountMaskWidths(t *testing.T) {
	assert.Equal(t, uint64(0x1f), shiftCountMask(Width32))
	assert.Equal(t, uint64(0x1f), shiftCountMask(Width16))
	assert.Equal(t, uint64(0x3f), shiftCountMask(Width64))
}
