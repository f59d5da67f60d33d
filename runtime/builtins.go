package runtime

import (
	"fmt"
	"strconv"

	"github.com/grafana/sobek"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/ops"
	"github.com/wippyai/js-runtime/resource"
)

// Names of the ops every runtime registers.
const (
	OpClose     = "op_close"
	OpResources = "op_resources"
	OpPrint     = "op_print"
)

func (r *Runtime) registerBuiltins() {
	r.ops.Register(OpClose, ops.Sync(opClose))
	r.ops.Register(OpResources, ops.Sync(opResources))
	r.ops.Register(OpPrint, r.opPrint)
}

func opClose(s *ops.State, rid resource.ID) (bool, error) {
	if !s.Resources.Close(rid) {
		return false, errors.ResourceNotFound(rid)
	}
	return true, nil
}

// opResources lists open resources as id -> tag. Ids are encoded as
// strings since they become object keys in script.
func opResources(s *ops.State, _ struct{}) (map[string]string, error) {
	entries := s.Resources.Entries()
	out := make(map[string]string, len(entries))
	for id, tag := range entries {
		out[strconv.FormatUint(uint64(id), 10)] = tag
	}
	return out, nil
}

func (r *Runtime) opPrint(c *ops.Call) (sobek.Value, error) {
	w := r.opts.Stdout
	if c.Arg(1).ToBoolean() {
		w = r.opts.Stderr
	}
	if _, err := fmt.Fprint(w, c.Arg(0).String()); err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "print")
	}
	return sobek.Undefined(), nil
}
