// Package watchdog implements the Security Manager transaction timer.
//
// A pairing attempt fails if 30 seconds pass without progress. The engine
// rearms the watchdog each time it sends a PDU and stops it when the attempt
// ends. An expiry is reported through Config.OnExpire together with the
// generation it belongs to, so a callback that raced with a restart or stop
// can be recognised and dropped.
//
// # States
//
//   - IDLE: not armed
//   - RUNNING: armed, expiry pending
//   - EXPIRED: fired; Start rearms it
package watchdog
