package metadata

import (
	"fmt"
	"sort"

	"github.com/borealis-engine/borealis/engine/core"
)

// InputBinding resolves one declared input of a renderpass to the pass that
// produces it. An empty Attachment means the whole target (all attachments).
type InputBinding struct {
	// Name is the raw input reference as declared ("target" or
	// "target.attachment"); it doubles as the input key used for descriptor
	// naming.
	Name       string
	Target     string
	Attachment string
	Producer   string
}

// Flow is the linear, dependency-respecting execution order of renderpasses,
// plus the resolved producer of every declared input. It is rebuilt only on
// configuration change or swapchain recreation, never per frame.
type Flow struct {
	Order  []string
	Inputs map[string][]InputBinding
}

// Final returns the name of the presentation sink, the pass whose output is
// the viewport. The flow places it last.
func (f *Flow) Final() string {
	if len(f.Order) == 0 {
		return ""
	}
	return f.Order[len(f.Order)-1]
}

// ResolveFlow flattens the output->input relation of the configured
// renderpasses into a linear execution order such that every pass runs after
// all passes producing its inputs. Cycles and unproduced inputs fail fast
// here, at load time.
func ResolveFlow(config *RenderConfig) (*Flow, error) {
	// Producer of each non-viewport target.
	producers := make(map[string]string, len(config.Renderpasses))
	for name, pass := range config.Renderpasses {
		if pass.Output != ViewportTarget {
			producers[pass.Output] = name
		}
	}

	// Dependency edges: consumer -> set of producing passes.
	deps := make(map[string]map[string]bool, len(config.Renderpasses))
	inputs := make(map[string][]InputBinding, len(config.Renderpasses))
	for name, pass := range config.Renderpasses {
		deps[name] = make(map[string]bool)
		for _, input := range pass.Inputs {
			targetName, attachmentName := SplitInputReference(input)
			producer, ok := producers[targetName]
			if !ok {
				err := fmt.Errorf("flow resolution: renderpass `%s` consumes target `%s` which no pass produces", name, targetName)
				core.LogError(err.Error())
				return nil, err
			}
			if producer == name {
				err := fmt.Errorf("flow resolution: renderpass `%s` consumes its own output `%s`: %w", name, targetName, core.ErrFlowCycle)
				core.LogError(err.Error())
				return nil, err
			}
			deps[name][producer] = true
			inputs[name] = append(inputs[name], InputBinding{
				Name:       input,
				Target:     targetName,
				Attachment: attachmentName,
				Producer:   producer,
			})
		}
	}

	// Kahn's algorithm with sorted tie-breaking so the order is deterministic
	// for a given configuration.
	order := make([]string, 0, len(config.Renderpasses))
	remaining := make(map[string]map[string]bool, len(deps))
	for name, d := range deps {
		remaining[name] = make(map[string]bool, len(d))
		for p := range d {
			remaining[name][p] = true
		}
	}
	for len(remaining) > 0 {
		ready := make([]string, 0, len(remaining))
		for name, d := range remaining {
			if len(d) == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			names := make([]string, 0, len(remaining))
			for name := range remaining {
				names = append(names, name)
			}
			sort.Strings(names)
			err := fmt.Errorf("flow resolution: %w involving passes %v", core.ErrFlowCycle, names)
			core.LogError(err.Error())
			return nil, err
		}
		sort.Strings(ready)
		for _, name := range ready {
			order = append(order, name)
			delete(remaining, name)
		}
		for _, d := range remaining {
			for _, name := range ready {
				delete(d, name)
			}
		}
	}

	// The viewport pass is the presentation sink; nothing consumes it, so
	// moving it to the very end preserves all dependencies.
	for i, name := range order {
		if config.Renderpasses[name].Output == ViewportTarget {
			order = append(append(order[:i:i], order[i+1:]...), name)
			break
		}
	}

	flow := &Flow{Order: order, Inputs: inputs}
	core.LogDebug("Resolved renderpass flow: %v", order)
	return flow, nil
}
