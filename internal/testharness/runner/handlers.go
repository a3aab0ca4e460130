package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mash-protocol/blesmp/internal/testharness/engine"
	"github.com/mash-protocol/blesmp/internal/testharness/loader"
	"github.com/mash-protocol/blesmp/pkg/persistence"
	"github.com/mash-protocol/blesmp/pkg/smp"
)

const pollInterval = 10 * time.Millisecond

func (r *Runner) registerHandlers() {
	r.engine.RegisterHandler("pair", r.handlePair)
	r.engine.RegisterHandler("security_request", r.handleSecurityRequest)
	r.engine.RegisterHandler("pair_bredr", r.handlePairBREDR)
	r.engine.RegisterHandler("generate_oob", r.handleGenerateOOB)
	r.engine.RegisterHandler("wait_outcome", r.handleWaitOutcome)
	r.engine.RegisterHandler("expect_no_outcome", r.handleExpectNoOutcome)
	r.engine.RegisterHandler("drop_pdu", r.handleDropPDU)
	r.engine.RegisterHandler("disconnect", r.handleDisconnect)
	r.engine.RegisterHandler("reconnect", r.handleReconnect)
	r.engine.RegisterHandler("page_timeout", r.handlePageTimeout)
	r.engine.RegisterHandler("cancel", r.handleCancel)
	r.engine.RegisterHandler("sleep", r.handleSleep)
	r.engine.RegisterHandler("wait_sent", r.handleWaitSent)
	r.engine.RegisterHandler("read_bonds", r.handleReadBonds)
	r.engine.RegisterHandler("read_state", r.handleReadState)
}

func fixtureOf(state *engine.ExecutionState) (*fixture, error) {
	fx, ok := state.Fixture.(*fixture)
	if !ok {
		return nil, errNoFixture
	}
	return fx, nil
}

// deviceParam returns the device named by the step's "device" parameter.
func deviceParam(step *loader.Step, state *engine.ExecutionState, def string) (*device, error) {
	fx, err := fixtureOf(state)
	if err != nil {
		return nil, err
	}
	name := paramString(step.Params, "device", def)
	d, ok := fx.devices[name]
	if !ok {
		return nil, fmt.Errorf("unknown device %q", name)
	}
	return d, nil
}

func paramString(params map[string]interface{}, key, def string) string {
	if v, ok := params[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return def
}

func paramInt(params map[string]interface{}, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.ParseInt(n, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return int(i), nil
	}
	return 0, fmt.Errorf("parameter %s: unexpected %T", key, v)
}

// paramOpcode accepts an opcode by name, like "PairingRandom", or number.
func paramOpcode(params map[string]interface{}) (smp.Opcode, error) {
	v, ok := params["opcode"]
	if !ok {
		return 0, errors.New("missing opcode")
	}
	if s, ok := v.(string); ok {
		for op := smp.OpPairingRequest; op <= smp.OpPairingCommitment; op++ {
			if strings.EqualFold(op.String(), s) {
				return op, nil
			}
		}
	}
	n, err := paramInt(params, "opcode", 0)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 0xff {
		return 0, fmt.Errorf("invalid opcode %v", v)
	}
	return smp.Opcode(n), nil
}

func (r *Runner) handlePair(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, central)
	if err != nil {
		return nil, err
	}
	return nil, d.m.Pair(d.peer())
}

func (r *Runner) handleSecurityRequest(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, peripheral)
	if err != nil {
		return nil, err
	}
	return nil, d.m.RequestSecurity(d.peer())
}

func (r *Runner) handlePairBREDR(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, central)
	if err != nil {
		return nil, err
	}
	if d.spec.LinkKey == "" {
		return nil, fmt.Errorf("%s has no link key", d.name)
	}
	lk, err := decodeKey(d.spec.LinkKey)
	if err != nil {
		return nil, err
	}
	return nil, d.m.PairOverBREDR(d.peer(), lk, smp.LinkKeyType(d.spec.LinkKeyType))
}

func (r *Runner) handleGenerateOOB(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	fx, err := fixtureOf(state)
	if err != nil {
		return nil, err
	}
	names := []string{central, peripheral}
	if name := paramString(step.Params, "device", "both"); name != "both" {
		names = []string{name}
	}
	for _, name := range names {
		d, ok := fx.devices[name]
		if !ok {
			return nil, fmt.Errorf("unknown device %q", name)
		}
		data, err := d.m.GenerateOOBData()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		d.mu.Lock()
		d.oob = data
		d.mu.Unlock()
	}
	return nil, nil
}

// handleWaitOutcome waits for the pairing outcome of one device or both
// and reports it under "<device>." keys.
func (r *Runner) handleWaitOutcome(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	fx, err := fixtureOf(state)
	if err != nil {
		return nil, err
	}
	names := []string{central, peripheral}
	if name := paramString(step.Params, "device", "both"); name != "both" {
		names = []string{name}
	}

	outputs := make(map[string]interface{})
	for _, name := range names {
		d, ok := fx.devices[name]
		if !ok {
			return nil, fmt.Errorf("unknown device %q", name)
		}
		o, err := d.wait(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range describeOutcome(o) {
			outputs[name+"."+k] = v
		}
	}

	c, p := fx.devices[central].comparedValues(), fx.devices[peripheral].comparedValues()
	if len(c) > 0 && len(p) > 0 {
		outputs["numeric_match"] = c[len(c)-1] == p[len(p)-1]
	}
	return outputs, nil
}

func describeOutcome(o outcome) map[string]interface{} {
	if o.err != nil {
		out := map[string]interface{}{
			"result": smp.ReasonOf(o.err).String(),
			"remote": false,
		}
		var pe *smp.PairingError
		if errors.As(o.err, &pe) {
			out["remote"] = pe.Remote
		}
		return out
	}

	res := o.result
	keys := make([]string, 0, len(res.Keys))
	for _, k := range res.Keys {
		origin := "peer"
		if k.Local {
			origin = "local"
		}
		keys = append(keys, origin+":"+k.Type.String())
	}
	sort.Strings(keys)

	return map[string]interface{}{
		"result":             "success",
		"model":              res.Model.String(),
		"level":              res.Level.String(),
		"key_size":           int(res.KeySize),
		"secure_connections": res.SecureConnections,
		"bonded":             res.Bonded,
		"retried":            res.Retried,
		"keys":               keys,
	}
}

func (r *Runner) handleExpectNoOutcome(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	fx, err := fixtureOf(state)
	if err != nil {
		return nil, err
	}
	ms, err := paramInt(step.Params, "duration_ms", 200)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	for {
		select {
		case o := <-fx.devices[central].outcomes:
			return nil, fmt.Errorf("central: unexpected outcome %v", describeOutcome(o)["result"])
		case o := <-fx.devices[peripheral].outcomes:
			return nil, fmt.Errorf("peripheral: unexpected outcome %v", describeOutcome(o)["result"])
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// handleDropPDU drops the next count PDUs with the given opcode sent by the
// device. A count of 0 drops them all.
func (r *Runner) handleDropPDU(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, central)
	if err != nil {
		return nil, err
	}
	op, err := paramOpcode(step.Params)
	if err != nil {
		return nil, err
	}
	count, err := paramInt(step.Params, "count", 0)
	if err != nil {
		return nil, err
	}
	d.fx.addDrop(d.addr, op, count)
	return nil, nil
}

func (r *Runner) handleDisconnect(_ context.Context, _ *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	fx, err := fixtureOf(state)
	if err != nil {
		return nil, err
	}
	fx.link.Disconnect()
	return nil, nil
}

func (r *Runner) handleReconnect(_ context.Context, _ *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	fx, err := fixtureOf(state)
	if err != nil {
		return nil, err
	}
	fx.link.Reconnect()
	return nil, nil
}

func (r *Runner) handlePageTimeout(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, central)
	if err != nil {
		return nil, err
	}
	return nil, d.end.Fail(smp.LinkPageTimeout)
}

func (r *Runner) handleCancel(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, central)
	if err != nil {
		return nil, err
	}
	return nil, d.m.Cancel(d.peer())
}

func (r *Runner) handleSleep(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]interface{}, error) {
	ms, err := paramInt(step.Params, "duration_ms", 100)
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleWaitSent waits until the device has sent count PDUs with opcode.
func (r *Runner) handleWaitSent(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, central)
	if err != nil {
		return nil, err
	}
	op, err := paramOpcode(step.Params)
	if err != nil {
		return nil, err
	}
	count, err := paramInt(step.Params, "count", 1)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for d.end.Sent(op) < count {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%s sent %d %s, want %d: %w", d.name, d.end.Sent(op), op, count, ctx.Err())
		}
	}
	return map[string]interface{}{d.name + ".sent": d.end.Sent(op)}, nil
}

func (r *Runner) handleReadBonds(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, central)
	if err != nil {
		return nil, err
	}
	keys, err := d.bonds.Keys(d.peer())
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	identity, err := d.bonds.Identity(d.peer())
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	return map[string]interface{}{
		d.name + ".bond_keys":     len(keys),
		d.name + ".bond_identity": identity,
	}, nil
}

func (r *Runner) handleReadState(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
	d, err := deviceParam(step, state, central)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		d.name + ".state":      d.m.State(d.peer()).String(),
		d.name + ".attempts":   d.m.Attempts().AttemptCount(d.peer()),
		d.name + ".keypresses": d.keypressCount(),
	}, nil
}

type dropRule struct {
	from      smp.Address
	op        smp.Opcode
	remaining int
	always    bool
}

func (fx *fixture) addDrop(from smp.Address, op smp.Opcode, count int) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.drops = append(fx.drops, &dropRule{from: from, op: op, remaining: count, always: count == 0})
}

// deliver is the link filter.
func (fx *fixture) deliver(from smp.Address, _ smp.Link, pdu []byte) bool {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	for _, rule := range fx.drops {
		if rule.from != from || rule.op != smp.Opcode(pdu[0]) {
			continue
		}
		if rule.always {
			return false
		}
		if rule.remaining > 0 {
			rule.remaining--
			return false
		}
	}
	return true
}
