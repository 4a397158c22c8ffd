package cpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// TestDecodeLengthAgreesWithX86asm cross-checks this decoder's instruction
// length against golang.org/x/arch/x86/x86asm, an independent decoder, for
// a sample of common encodings. A disagreement here means the internal
// decoder consumed the wrong number of bytes, not just reported the wrong
// mnemonic, so this catches length bugs neither this package's own tests
// nor a mnemonic comparison would.
func TestDecodeLengthAgreesWithX86asm(t *testing.T) {
	cases := []struct {
		name string
		code []byte
	}{
		{"add eax,ebx", []byte{0x01, 0xd8}},
		{"mov eax,imm32", []byte{0xb8, 0x05, 0x00, 0x00, 0x00}},
		{"push eax", []byte{0x50}},
		{"pop eax", []byte{0x58}},
		{"inc eax", []byte{0x40}},
		{"cmp eax,imm32", []byte{0x3d, 0x01, 0x00, 0x00, 0x00}},
		{"jz rel8", []byte{0x74, 0x10}},
		{"nop", []byte{0x90}},
		{"xor eax,eax", []byte{0x31, 0xc0}},
		{"shl eax,imm8", []byte{0xc1, 0xe0, 0x04}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := newTestEmulator(0x1000)
			e.Ctx.Mode = ModeReal
			e.Ctx.DefaultOperandSize = 32
			e.Ctx.DefaultAddressSize = 32
			loadAt(e, 0x100, c.code)

			ins, status, err := e.DecodeOne()
			require.NoError(t, err)
			require.Equal(t, StatusSuccess, status)

			ref, err := x86asm.Decode(c.code, 32)
			require.NoError(t, err)

			assert.Equal(t, ref.Len, ins.Length, "decoded length mismatch for %s", c.name)
		})
	}
}

// TestDecodeMnemonicFamilyAgreesWithX86asm checks the decoded mnemonic's
// instruction family (the first token, case-insensitively) lines up with
// x86asm's opcode name, catching a decode table wired to the wrong
// handler even when the byte length happens to match.
func TestDecodeMnemonicFamilyAgreesWithX86asm(t *testing.T) {
	cases := map[string][]byte{
		"add": {0x01, 0xd8},
		"mov": {0xb8, 0x05, 0x00, 0x00, 0x00},
		"push": {0x50},
		"pop": {0x58},
		"xor": {0x31, 0xc0},
	}
	for want, code := range cases {
		e := newTestEmulator(0x1000)
		e.Ctx.Mode = ModeReal
		e.Ctx.DefaultOperandSize = 32
		e.Ctx.DefaultAddressSize = 32
		loadAt(e, 0x100, code)

		ins, status, err := e.DecodeOne()
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, status)

		ref, err := x86asm.Decode(code, 32)
		require.NoError(t, err)

		assert.True(t, strings.EqualFold(want, ins.Mnemonic))
		assert.True(t, strings.Contains(strings.ToLower(ref.Op.String()), want))
	}
}
