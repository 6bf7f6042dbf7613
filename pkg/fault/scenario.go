package fault

import (
	"fmt"
	"os"
	"sort"

	cansim "github.com/openxilenv/cansim"
	"gopkg.in/yaml.v3"
)

// Step of a scenario, at Cycle the fault is activated or the
// current fault is reset
type Step struct {
	Cycle int         `yaml:"cycle"`
	Reset bool        `yaml:"reset"`
	Fault *Descriptor `yaml:"fault"`
}

// Scenario replays a timed list of faults
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	scenario := &Scenario{}
	if err := yaml.Unmarshal(data, scenario); err != nil {
		return nil, fmt.Errorf("%w : %v", cansim.ErrConfig, err)
	}
	for i, step := range scenario.Steps {
		if step.Cycle < 0 {
			return nil, fmt.Errorf("%w : step %v has a negative cycle", cansim.ErrConfig, i)
		}
		if step.Fault == nil && !step.Reset {
			return nil, fmt.Errorf("%w : step %v neither activates nor resets", cansim.ErrConfig, i)
		}
		if step.Fault != nil {
			if err := step.Fault.validate(); err != nil {
				return nil, fmt.Errorf("%w : step %v : %v", cansim.ErrConfig, i, err)
			}
		}
	}
	sort.SliceStable(scenario.Steps, func(i, j int) bool {
		return scenario.Steps[i].Cycle < scenario.Steps[j].Cycle
	})
	return scenario, nil
}

// Step applies the steps scheduled for cycle, resets before activations
func (s *Scenario) Step(cycle int, inj *Injector) {
	for _, step := range s.Steps {
		if step.Cycle != cycle {
			continue
		}
		if step.Reset {
			inj.Reset()
		}
		if step.Fault != nil {
			if err := inj.Activate(*step.Fault); err != nil {
				inj.logger.Errorf("scenario step at cycle %v failed : %v", cycle, err)
			}
		}
	}
}
