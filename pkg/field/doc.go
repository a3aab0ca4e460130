// Package field implements fixed-width modular arithmetic over the prime
// fields of the NIST P-192 and P-256 curves.
//
// Integers are little-word-first arrays of 32-bit words. The curve is a type
// parameter: Int[P192] and Int[P256] are distinct types, so a 192-bit operand
// can never reach a 256-bit operation. Every operation touches only the
// active window of its curve (6 or 8 words); the remaining words of the
// backing array stay zero.
//
// # Operations
//
//   - Compare, IsZero: most significant word first
//   - Add, Sub: ripple carry/borrow, returning the carry or borrow bit
//   - AddMod, SubMod, LshiftMod: one conditional correction by the prime
//   - Mult: double-width schoolbook product
//   - FastMod: generalized-Mersenne reduction of a double-width value
//   - MersenneMultMod, MersenneSquaMod: multiply or square, then FastMod
//   - InvMod: binary extended Euclid
//
// Operands of the modular operations must already be reduced. Violating that
// is a caller bug and is not detected.
package field
