package report

import (
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"github.com/jifbench/jifbench/model"
)

// BreakdownFile is the breakdown profile file name inside a result directory.
const BreakdownFile = "breakdown.pb.gz"

// breakdown builds a pprof profile out of aggregate results. Every sample is
// one phase of one configuration of one program.
type breakdown struct {
	profile   *profile.Profile
	functions map[string]*profile.Function
	locations map[string]*profile.Location
}

func newBreakdown() *breakdown {
	return &breakdown{
		profile: &profile.Profile{
			SampleType: []*profile.ValueType{{Type: "restore", Unit: "microseconds"}},
			PeriodType: &profile.ValueType{Type: "restore", Unit: "microseconds"},
			Period:     1,
		},
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
	}
}

// getOrCreateFunction gets or creates a function
func (b *breakdown) getOrCreateFunction(name string) *profile.Function {
	if fn, ok := b.functions[name]; ok {
		return fn
	}
	fn := &profile.Function{
		ID:         uint64(len(b.profile.Function) + 1),
		Name:       name,
		SystemName: name,
	}
	b.functions[name] = fn
	b.profile.Function = append(b.profile.Function, fn)
	return fn
}

// location returns the frame of name. Frames are keyed by their full stack so
// a phase under two configurations stays two nodes in the graph view.
func (b *breakdown) location(key, name string) *profile.Location {
	if loc, ok := b.locations[key]; ok {
		return loc
	}
	loc := &profile.Location{
		ID:   uint64(len(b.profile.Location) + 1),
		Line: []profile.Line{{Function: b.getOrCreateFunction(name)}},
	}
	b.locations[key] = loc
	b.profile.Location = append(b.profile.Location, loc)
	return loc
}

func (b *breakdown) addSample(program, tag string, phase Phase, value int64) {
	programLoc := b.location(program, program)
	configLoc := b.location(program+"/"+tag, tag)
	phaseLoc := b.location(program+"/"+tag+"/"+string(phase), string(phase))

	b.profile.Sample = append(b.profile.Sample, &profile.Sample{
		// Leaf first
		Location: []*profile.Location{phaseLoc, configLoc, programLoc},
		Value:    []int64{value},
		Label: map[string][]string{
			"program": {program},
			"config":  {tag},
			"phase":   {string(phase)},
		},
	})
}

// Breakdown returns a profile whose stacks are program, configuration and
// restore phase, valued in microseconds. Phases without data are omitted.
func Breakdown(agg model.Aggregate) *profile.Profile {
	b := newBreakdown()
	for _, program := range agg.Programs() {
		byTag := agg[program]
		for _, c := range model.RestoreConfigs {
			s, ok := byTag[c.Tag]
			if !ok {
				continue
			}
			values := phaseValues(s)
			for _, phase := range Phases {
				if v := values[phase]; v != nil {
					b.addSample(program, c.Tag, phase, *v)
				}
			}
		}
	}
	return b.profile
}

// WriteBreakdown stores the breakdown profile of agg at path, gzip
// compressed as go tool pprof expects.
func WriteBreakdown(agg model.Aggregate, path string) error {
	prof := Breakdown(agg)
	if err := prof.CheckValid(); err != nil {
		return fmt.Errorf("invalid breakdown profile: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create breakdown profile: %w", err)
	}
	defer f.Close()
	if err := prof.Write(f); err != nil {
		return fmt.Errorf("failed to write breakdown profile: %w", err)
	}
	return f.Close()
}
